package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the panel's key bindings.
type KeyMap struct {
	Connect      key.Binding
	Index        key.Binding
	ExposureUp   key.Binding
	ExposureDown key.Binding
	TriggerMode  key.Binding
	Trigger      key.Binding
	Bug          key.Binding
	Help         key.Binding
	Quit         key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Connect: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "connect"),
		),
		Index: key.NewBinding(
			key.WithKeys("0", "1", "2", "3", "4", "5", "6", "7", "8", "9"),
			key.WithHelp("0-9", "camera index"),
		),
		ExposureUp: key.NewBinding(
			key.WithKeys("+", "=", "up"),
			key.WithHelp("+", "exposure up"),
		),
		ExposureDown: key.NewBinding(
			key.WithKeys("-", "down"),
			key.WithHelp("-", "exposure down"),
		),
		TriggerMode: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "trigger mode"),
		),
		Trigger: key.NewBinding(
			key.WithKeys(" ", "space"),
			key.WithHelp("space", "software trigger"),
		),
		Bug: key.NewBinding(
			key.WithKeys("b"),
			key.WithHelp("b", "bug simulation"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "more keys"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Connect, k.ExposureUp, k.ExposureDown, k.TriggerMode, k.Trigger, k.Bug, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Connect, k.Index},
		{k.ExposureUp, k.ExposureDown},
		{k.TriggerMode, k.Trigger},
		{k.Bug, k.Help, k.Quit},
	}
}
