package feed

import (
	"strings"

	"foodstr/classifier"
	"foodstr/models"
)

// qualify applies the uniform filter chain to a merged candidate set. The
// same rules run regardless of which source a note came from, with one
// exception: notes marked Discovery were already classified at fetch time
// and skip re-classification, but still get the spam cap.
func (r *Reconciler) qualify(notes []models.Note, mode rules) []models.Note {
	kept := make([]models.Note, 0, len(notes))
	for _, note := range notes {
		if r.qualifyOne(note, mode) {
			kept = append(kept, note)
		}
	}
	return kept
}

func (r *Reconciler) qualifyOne(note models.Note, mode rules) bool {
	if note.Id == "" || note.Kind != models.KindNote {
		return false
	}

	// Spam cap applies to everything, classified or not.
	if r.class.IsSpam(note) {
		return false
	}

	foodOn := mode.food == foodForced || (mode.food == foodToggle && r.cfg.FoodFilter)
	if foodOn && !note.Discovery && !r.class.ClassifyNote(note) {
		return false
	}

	if !mode.includeReplies && classifier.IsReply(note.Tags) {
		return false
	}

	if r.muted(note) {
		return false
	}

	if mode.excludeFollowed {
		r.mu.Lock()
		_, followed := r.follows[note.Pubkey]
		r.mu.Unlock()
		if followed {
			return false
		}
	}

	return true
}

// muted checks the note against all four mute sets.
func (r *Reconciler) muted(note models.Note) bool {
	r.mu.Lock()
	mutes := r.mutes
	r.mu.Unlock()

	if _, ok := mutes.Authors[note.Pubkey]; ok {
		return true
	}

	if len(mutes.Words) > 0 {
		text := strings.ToLower(note.Text)
		for _, word := range mutes.Words {
			if strings.Contains(text, strings.ToLower(word)) {
				return true
			}
		}
	}

	for _, tag := range note.Tags {
		if len(tag) < 2 {
			continue
		}
		if tag[0] == "t" {
			if _, ok := mutes.Tags[strings.ToLower(tag[1])]; ok {
				return true
			}
		}
	}

	if len(mutes.Threads) > 0 {
		if root := classifier.RootRef(note.Tags); root != "" {
			if _, ok := mutes.Threads[root]; ok {
				return true
			}
		}
		if parent := classifier.ParentRef(note.Tags); parent != "" {
			if _, ok := mutes.Threads[parent]; ok {
				return true
			}
		}
	}

	return false
}
