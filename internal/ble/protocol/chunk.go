package protocol

// SplitText splits display text into pieces whose encoded length fits in
// maxBytes. Every rune and every "[icon:N]" marker encodes to exactly one
// byte, so pieces are measured in those units. Splits prefer word boundaries
// and never cut a marker in half. Returns nil for empty text.
func SplitText(text string, maxBytes int) []string {
	if text == "" {
		return nil
	}
	if maxBytes <= 0 {
		maxBytes = MaxTextLen
	}

	units := textUnits(text)
	if len(units) <= maxBytes {
		return []string{text}
	}

	var chunks []string
	for len(units) > 0 {
		if len(units) <= maxBytes {
			chunks = append(chunks, joinUnits(units))
			break
		}

		split := maxBytes
		for i := maxBytes; i > 0; i-- {
			if units[i-1] == " " {
				split = i
				break
			}
		}
		// The trailing space stays in the first piece so reassembly is exact.
		chunks = append(chunks, joinUnits(units[:split]))
		units = units[split:]
	}
	return chunks
}

// textUnits breaks text into the pieces that each encode to one byte.
func textUnits(text string) []string {
	var units []string
	last := 0
	for _, m := range iconMarker.FindAllStringIndex(text, -1) {
		for _, r := range text[last:m[0]] {
			units = append(units, string(r))
		}
		units = append(units, text[m[0]:m[1]])
		last = m[1]
	}
	for _, r := range text[last:] {
		units = append(units, string(r))
	}
	return units
}

func joinUnits(units []string) string {
	n := 0
	for _, u := range units {
		n += len(u)
	}
	b := make([]byte, 0, n)
	for _, u := range units {
		b = append(b, u...)
	}
	return string(b)
}
