package desktop

import (
	"github.com/atotto/clipboard"
)

// Clipboard is the system clipboard.
type Clipboard struct{}

func NewClipboard() *Clipboard {
	return &Clipboard{}
}

func (c *Clipboard) ReadText() (string, error) {
	return clipboard.ReadAll()
}

func (c *Clipboard) WriteText(text string) error {
	return clipboard.WriteAll(text)
}

// Available reports whether a clipboard backend exists on this host.
func (c *Clipboard) Available() bool {
	return !clipboard.Unsupported
}
