package stream

// ICYMetaInt is the default audio-byte interval between ICY metablocks; the
// engine's configured interval is the one advertised in the icy-metaint
// response header.
const ICYMetaInt = 8192

// maxTitleBytes is the largest StreamTitle payload this formatter will emit;
// longer titles are truncated so the total metablock stays within the
// 16-byte-aligned length-byte's range (n <= 255 => up to 4080 payload bytes,
// the "StreamTitle='';" wrapper included).
const maxTitleBytes = 4080

// buildICYBlock renders title into a length-prefixed, 16-byte-aligned ICY
// metadata block. An empty title produces the single zero byte (no
// payload), per the SHOUTcast in-band metadata convention.
func buildICYBlock(title string) []byte {
	if title == "" {
		return []byte{0}
	}

	const prefix = "StreamTitle='"
	const suffix = "';"

	maxTitle := maxTitleBytes - len(prefix) - len(suffix)
	if maxTitle < 0 {
		maxTitle = 0
	}
	if len(title) > maxTitle {
		title = title[:maxTitle]
	}

	payload := prefix + title + suffix

	// Round payload length up to the next multiple of 16.
	n := (len(payload) + 15) / 16
	padded := make([]byte, n*16)
	copy(padded, payload)

	block := make([]byte, 1+len(padded))
	block[0] = byte(n)
	copy(block[1:], padded)
	return block
}

// formatTitle joins title and artist the way the Broadcast Engine's ICY
// title refresh does: "title – artist", or whichever of the two is
// non-empty, or empty if neither is.
func formatTitle(title, artist string) string {
	switch {
	case title != "" && artist != "":
		return title + " – " + artist
	case title != "":
		return title
	default:
		return artist
	}
}
