package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the review screen's keyboard shortcuts.
type KeyMap struct {
	Up        key.Binding
	Down      key.Binding
	Accept    key.Binding
	Reject    key.Binding
	Skip      key.Binding
	Submit    key.Binding
	Cancel    key.Binding
	Help      key.Binding
	Quit      key.Binding
	ForceQuit key.Binding
}

func bind(help, desc string, keys ...string) key.Binding {
	return key.NewBinding(key.WithKeys(keys...), key.WithHelp(help, desc))
}

// DefaultKeyMap uses vim-style movement and y/n as aliases for accept/reject.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up:        bind("↑/k", "up", "k", "up"),
		Down:      bind("↓/j", "down", "j", "down"),
		Accept:    bind("a/y", "accept match", "a", "y"),
		Reject:    bind("r/n", "reject match", "r", "n"),
		Skip:      bind("s/Space", "skip", "s", " "),
		Submit:    bind("Enter", "submit reason", "enter"),
		Cancel:    bind("Esc", "cancel", "esc"),
		Help:      bind("?", "toggle help", "?"),
		Quit:      bind("q", "quit", "q"),
		ForceQuit: bind("Ctrl+C", "force quit", "ctrl+c"),
	}
}

// ShortHelp returns key bindings for the short help view.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Accept, k.Reject, k.Skip, k.Help, k.Quit}
}

// FullHelp returns all key bindings for the full help view.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down},
		{k.Accept, k.Reject, k.Skip},
		{k.Submit, k.Cancel},
		{k.Help, k.Quit, k.ForceQuit},
	}
}
