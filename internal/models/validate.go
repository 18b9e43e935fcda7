package models

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Validate checks the structural rules of a card.
func (c *FlashCard) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.ID, validation.Required),
		validation.Field(&c.Question, validation.Required),
		validation.Field(&c.SubjectID, validation.Required),
		validation.Field(&c.Kind, validation.Required, validation.In(
			KindMultipleChoice, KindTrueFalse, KindFactCheck, KindSynthesis, KindReveal,
		)),
		validation.Field(&c.Difficulty, validation.Min(0)),
	); err != nil {
		return err
	}
	if c.Kind.IsReveal() {
		return nil
	}
	correct := 0
	seen := make(map[string]struct{}, len(c.Options))
	for _, o := range c.Options {
		if o.ID == "" {
			return errors.New("options: id is required")
		}
		if _, dup := seen[o.ID]; dup {
			return errors.New("options: duplicate id " + o.ID)
		}
		seen[o.ID] = struct{}{}
		if o.Correct {
			correct++
		}
	}
	if c.Kind == KindMultipleChoice && correct != 1 {
		return errors.New("options: multiple choice needs exactly one correct option")
	}
	if correct == 0 {
		return errors.New("options: no correct option")
	}
	return nil
}

// Validate checks identifiers, score ranges and the link type.
func (l *SemanticLink) Validate() error {
	if err := validation.ValidateStruct(l,
		validation.Field(&l.SourceID, validation.Required),
		validation.Field(&l.TargetID, validation.Required),
		validation.Field(&l.Similarity, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&l.Strength, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&l.Type, validation.Required, validation.In(LinkPrerequisite, LinkRelated, LinkAnalogy)),
	); err != nil {
		return err
	}
	if l.SourceID == l.TargetID {
		return errors.New("target_id: must differ from source_id")
	}
	return nil
}
