// Package render defines the contract for the downstream document-rendering
// step triggered after successful commits. Rendering itself lives outside
// Skuld; this package only carries the interface and a no-op default so the
// commit path can always fire the hook.
package render

import "github.com/orneryd/skuld/pkg/journal"

// Renderer re-renders human-readable documents affected by a committed
// transaction. It is invoked asynchronously after commit; failures must not
// affect the durability of the transaction and are only logged.
type Renderer interface {
	Render(tx journal.Transaction) error
}

// Func adapts a function to the Renderer interface.
type Func func(tx journal.Transaction) error

// Render calls f.
func (f Func) Render(tx journal.Transaction) error { return f(tx) }

// Nop is a Renderer that does nothing.
type Nop struct{}

// Render always succeeds.
func (Nop) Render(journal.Transaction) error { return nil }
