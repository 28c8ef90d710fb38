package domain

// Settings captures an identity's view preferences: the active sort order
// and which task, if any, is selected in the notes pane.
type Settings struct {
	SortField      SortField `json:"sortField"`
	SortDir        SortDir   `json:"sortDir"`
	SelectedTaskID string    `json:"selectedTaskId,omitempty"`
}

// DefaultSettings is the view state for an identity that never changed it.
func DefaultSettings() Settings {
	return Settings{SortField: SortByPriority, SortDir: SortAsc}
}

// ToggleSort applies a sort-field selection to the current settings.
// Selecting priority always resets to ascending manual order. Selecting a
// different field lands on descending first; selecting the already active
// field flips its direction.
func (s Settings) ToggleSort(field SortField) Settings {
	switch {
	case field == SortByPriority:
		s.SortField, s.SortDir = SortByPriority, SortAsc
	case s.SortField != field:
		s.SortField, s.SortDir = field, SortDesc
	case s.SortDir == SortDesc:
		s.SortDir = SortAsc
	default:
		s.SortDir = SortDesc
	}
	return s
}
