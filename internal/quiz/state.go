package quiz

import "github.com/starford/lumen/internal/models"

// State is a point-in-time view of a Machine for presentation.
type State struct {
	Phase            Phase             `json:"phase"`
	SessionID        string            `json:"session_id"`
	Index            int               `json:"index"`
	Total            int               `json:"total"`
	Card             *models.FlashCard `json:"card,omitempty"`
	Selection        string            `json:"selection,omitempty"`
	Confidence       models.Confidence `json:"confidence,omitempty"`
	RemainingSeconds *int              `json:"remaining_seconds,omitempty"`
	IsLast           bool              `json:"is_last"`
	ProgressPercent  float64           `json:"progress_percent"`
	AnsweredCount    int               `json:"answered_count"`
	CorrectCount     int               `json:"correct_count"`
}

func (m *Machine) stateLocked() State {
	total := m.offset + len(m.cards)
	st := State{
		Phase:         m.phase,
		SessionID:     m.session.ID,
		Index:         m.offset + m.index,
		Total:         total,
		Selection:     m.selection,
		Confidence:    m.confidence,
		AnsweredCount: len(m.answers),
		CorrectCount:  m.correct,
	}
	if m.remaining != nil {
		left := *m.remaining
		st.RemainingSeconds = &left
	}
	if total > 0 {
		st.ProgressPercent = float64(len(m.answers)) * 100 / float64(total)
	}
	if m.phase == PhaseInProgress && m.index < len(m.cards) {
		card := m.cards[m.index]
		st.Card = &card
		st.IsLast = m.index == len(m.cards)-1
	}
	return st
}
