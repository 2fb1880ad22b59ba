package textdoc

// Doc is a character-indexed text buffer. It is the content handle the
// session store owns for each document; positions are rune indexes, not
// byte offsets.
//
// Doc is not safe for concurrent use. Callers serialize access.
type Doc struct {
	ID      string
	Replica string
	runes   []rune
}

// New creates an empty document.
func New(docID, replicaID string) *Doc {
	return &Doc{ID: docID, Replica: replicaID}
}

// FromText creates a document seeded with text.
func FromText(docID, replicaID, text string) *Doc {
	d := New(docID, replicaID)
	if text != "" {
		d.Insert(0, text)
	}
	return d
}

// Insert places text before the character at index. Out-of-range indexes
// clamp to the ends of the document.
func (d *Doc) Insert(index int, text string) {
	if text == "" {
		return
	}
	index = d.clamp(index)
	ins := []rune(text)

	d.runes = append(d.runes, ins...)
	copy(d.runes[index+len(ins):], d.runes[index:len(d.runes)-len(ins)])
	copy(d.runes[index:], ins)
}

// Delete removes count characters starting at index.
func (d *Doc) Delete(index, count int) {
	index = d.clamp(index)
	if count <= 0 {
		return
	}
	end := index + count
	if end > len(d.runes) || end < index {
		end = len(d.runes)
	}
	d.runes = append(d.runes[:index], d.runes[end:]...)
}

// Text returns the document content.
func (d *Doc) Text() string {
	return string(d.runes)
}

// Len returns the number of characters in the document.
func (d *Doc) Len() int {
	return len(d.runes)
}

func (d *Doc) clamp(index int) int {
	if index < 0 {
		return 0
	}
	if index > len(d.runes) {
		return len(d.runes)
	}
	return index
}
