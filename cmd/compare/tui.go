package main

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/WessleyAI/wessley-compare/engine/cascade"
	"github.com/WessleyAI/wessley-compare/engine/compare"
	"github.com/WessleyAI/wessley-compare/engine/domain"
	"github.com/WessleyAI/wessley-compare/engine/form"
)

// How many recent notifications and earlier comparisons stay on screen.
const (
	maxNotes   = 3
	maxHistory = 4
)

// formChangedMsg tells the model the form changed off the UI goroutine.
type formChangedMsg struct{}

// watch coalesces form updates into a channel of capacity one. The hook never
// blocks, so controllers may update the form while the UI is busy.
func watch(f *form.Form) <-chan struct{} {
	ch := make(chan struct{}, 1)
	f.OnUpdate(func() {
		select {
		case ch <- struct{}{}:
		default:
		}
	})
	return ch
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return formChangedMsg{}
	}
}

// model is the bubbletea model for the comparison form.
type model struct {
	def     cascade.ChainDef
	form    *form.Form
	page    *compare.Page
	history *compare.History
	updates <-chan struct{}

	vehicle int               // focused vehicle, 0-based
	field   int               // focused field, 0-based
	cursor  map[string]string // highlighted option value per element
	status  string
	width   int
}

func newModel(def cascade.ChainDef, f *form.Form, page *compare.Page, history *compare.History, updates <-chan struct{}) model {
	return model{
		def:     def,
		form:    f,
		page:    page,
		history: history,
		updates: updates,
		cursor:  make(map[string]string),
	}
}

func (m model) Init() tea.Cmd {
	return waitForChange(m.updates)
}

func (m model) focusedID() string {
	return cascade.ElementID(m.def.Role, m.vehicle+1, m.def.Fields[m.field].Name)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case formChangedMsg:
		m.pruneCursors()
		return m, waitForChange(m.updates)

	case tea.KeyMsg:
		return m.updateKey(msg)
	}
	return m, nil
}

func (m model) updateKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	id := m.focusedID()
	st, _ := m.form.State(id)

	switch key.String() {
	case "ctrl+c", "q", "esc":
		return m, tea.Quit
	case "tab", "shift+tab":
		m.vehicle = (m.vehicle + 1) % compare.Vehicles
	case "up", "k":
		if m.field > 0 {
			m.field--
		}
	case "down", "j":
		if m.field < len(m.def.Fields)-1 {
			m.field++
		}
	case "left", "h":
		if c := m.cursorOf(st); c > 0 {
			m.cursor[id] = st.Options[c-1].Value
		}
	case "right", "l":
		if c := m.cursorOf(st); c < len(st.Options)-1 {
			m.cursor[id] = st.Options[c+1].Value
		}
	case "enter", " ":
		if len(st.Options) == 0 {
			return m, nil
		}
		opt := st.Options[m.cursorOf(st)]
		if err := m.form.Select(id, opt.Value); err != nil {
			m.status = err.Error()
			return m, nil
		}
		m.status = ""
		if opt.Value != "" && m.field < len(m.def.Fields)-1 {
			m.field++
		}
	case "r":
		m.page.Reload()
		m.status = "reloading"
	}
	return m, nil
}

// cursorOf returns the highlighted option index of an element. It falls back
// to the current selection when nothing is highlighted or the highlighted
// option is gone.
func (m model) cursorOf(st form.State) int {
	if v, ok := m.cursor[st.ID]; ok {
		if i := optionIndex(st, v); i >= 0 {
			return i
		}
	}
	return max(optionIndex(st, st.Selection), 0)
}

// pruneCursors forgets highlights whose option was removed by a reset or
// repopulation.
func (m model) pruneCursors() {
	for id, v := range m.cursor {
		if st, ok := m.form.State(id); !ok || optionIndex(st, v) < 0 {
			delete(m.cursor, id)
		}
	}
}

func optionIndex(st form.State, value string) int {
	for i, o := range st.Options {
		if o.Value == value {
			return i
		}
	}
	return -1
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Compare vehicles"))
	b.WriteString("  ")
	b.WriteString(dimStyle.Render(m.def.Name))
	b.WriteString("\n\n")

	panels := make([]string, 0, compare.Vehicles)
	for v := 0; v < compare.Vehicles; v++ {
		panels = append(panels, m.viewVehicle(v))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, panels...))
	b.WriteString("\n")

	skip := 0
	if cmp, ok := m.page.Comparison(); ok {
		b.WriteString(successStyle.Render(fmt.Sprintf("Comparing %s with %s", vehicleLine(cmp.Vehicles[0]), vehicleLine(cmp.Vehicles[1]))))
		b.WriteString("\n")
		// The newest record is the comparison shown above.
		skip = 1
	}
	if m.history != nil {
		recs, _ := m.history.Recent(context.Background(), maxHistory)
		for _, r := range recs[min(skip, len(recs)):] {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  #%d %s vs %s", r.ID, vehicleLine(r.Vehicles[0]), vehicleLine(r.Vehicles[1]))))
			b.WriteString("\n")
		}
	}

	notes := m.form.Notifications()
	if len(notes) > maxNotes {
		notes = notes[len(notes)-maxNotes:]
	}
	for _, n := range notes {
		b.WriteString(errorStyle.Render("! " + n))
		b.WriteString("\n")
	}
	if m.status != "" {
		b.WriteString(dimStyle.Render(m.status))
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("\nTab switch vehicle, ↑/↓ field, ←/→ option, Enter select, r reload, q quit"))
	return b.String()
}

func (m model) viewVehicle(v int) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Vehicle %d", v+1)))
	b.WriteString("\n\n")

	for i, fd := range m.def.Fields {
		id := cascade.ElementID(m.def.Role, v+1, fd.Name)
		st, _ := m.form.State(id)
		focused := v == m.vehicle && i == m.field

		pointer := "  "
		if focused {
			pointer = cursorStyle.Render("> ")
		}
		b.WriteString(pointer)
		b.WriteString(labelStyle.Render(fd.Name))
		b.WriteString(m.viewOptions(st, focused))
		b.WriteString("\n")
	}

	if v == m.vehicle {
		return activeStyle.Render(b.String())
	}
	return panelStyle.Render(b.String())
}

func (m model) viewOptions(st form.State, focused bool) string {
	if len(st.Options) == 0 {
		return dimStyle.Render("-")
	}
	if focused && st.Enabled {
		opt := st.Options[m.cursorOf(st)]
		label := fmt.Sprintf("‹ %s ›", opt.Label)
		if opt.Value == st.Selection && opt.Value != "" {
			return selectedStyle.Render(label)
		}
		return cursorStyle.Render(label)
	}

	// Away from focus a field shows what is selected, the sentinel if nothing.
	label := st.Options[max(optionIndex(st, st.Selection), 0)].Label
	switch {
	case !st.Enabled:
		if strings.HasPrefix(label, "Error") {
			return errorStyle.Render(label)
		}
		return dimStyle.Render(label)
	case st.Selection != "":
		return selectedStyle.Render(label)
	}
	return label
}

func vehicleLine(v domain.Vehicle) string {
	s := fmt.Sprintf("%d %s %s", v.Year, v.Make, v.Model)
	if v.Type != "" {
		s += " (" + v.Type + ")"
	}
	return s
}
