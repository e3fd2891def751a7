package store

import (
	"sort"
	"sync"
)

// Capabilities tracks, per table, which optional columns are currently
// writable. It starts optimistic: every column is writable until a failed
// write proves otherwise, after which the column is skipped for the rest of
// the process lifetime. Shared read-mostly across all Store calls; stale
// reads are tolerated because the write path retries once without the column.
type Capabilities struct {
	unwritable sync.Map // "table.column" → struct{}
}

// NewCapabilities returns an empty, all-writable capability cache.
func NewCapabilities() *Capabilities {
	return &Capabilities{}
}

// IsWritable reports the cached belief about table.column.
func (c *Capabilities) IsWritable(table, column string) bool {
	_, unwritable := c.unwritable.Load(table + "." + column)
	return !unwritable
}

// MarkUnwritable records that table.column does not exist in the live schema.
// Never un-marked within a process.
func (c *Capabilities) MarkUnwritable(table, column string) {
	c.unwritable.Store(table+"."+column, struct{}{})
}

// Unwritable lists the columns proven missing so far, sorted, as
// "table.column" strings.
func (c *Capabilities) Unwritable() []string {
	var cols []string
	c.unwritable.Range(func(key, _ any) bool {
		cols = append(cols, key.(string))
		return true
	})
	sort.Strings(cols)
	return cols
}
