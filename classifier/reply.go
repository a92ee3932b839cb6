package classifier

// Reply helpers work on the structural "e" tags of a note. An "e" tag is
// ["e", <id>, <relay?>, <marker?>]; the marker slot distinguishes "reply",
// "root" and "mention" references.

func eTagMarker(tag []string) string {
	if len(tag) >= 4 {
		return tag[3]
	}
	return ""
}

// IsReply reports whether the note references another note as its parent.
// A marker of "mention" does not count as a reply signal; an absent,
// "reply", "root" or unrecognized marker does.
func IsReply(tags [][]string) bool {
	for _, tag := range tags {
		if len(tag) < 2 || tag[0] != "e" {
			continue
		}
		if eTagMarker(tag) != "mention" {
			return true
		}
	}
	return false
}

// ParentRef resolves which referenced note is the parent for context
// display. Precedence: an explicit "reply"-marked reference, then the last
// non-root reference when both a "root" and another reference exist, then
// the sole "root" reference, then the structurally last reference (legacy
// convention where the final "e" tag is the parent).
func ParentRef(tags [][]string) string {
	var replyRef, rootRef, lastRef string
	var nonRoot []string

	for _, tag := range tags {
		if len(tag) < 2 || tag[0] != "e" {
			continue
		}
		id := tag[1]
		switch eTagMarker(tag) {
		case "reply":
			replyRef = id
		case "root":
			rootRef = id
		case "mention":
			// Mentions are never parents.
			continue
		default:
			nonRoot = append(nonRoot, id)
		}
		lastRef = id
	}

	if replyRef != "" {
		return replyRef
	}
	if rootRef != "" && len(nonRoot) > 0 {
		return nonRoot[len(nonRoot)-1]
	}
	if rootRef != "" {
		return rootRef
	}
	return lastRef
}

// RootRef returns the thread root reference, if marked.
func RootRef(tags [][]string) string {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == "e" && eTagMarker(tag) == "root" {
			return tag[1]
		}
	}
	return ""
}
