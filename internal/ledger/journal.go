package ledger

// journal records undo closures for every state write made inside a
// transaction. Reverting to a snapshot replays them newest first.
type journal struct {
	undo []func()
}

func (j *journal) append(fn func()) {
	j.undo = append(j.undo, fn)
}

func (j *journal) snapshot() int {
	return len(j.undo)
}

func (j *journal) revertTo(snapshot int) {
	for i := len(j.undo) - 1; i >= snapshot; i-- {
		j.undo[i]()
	}
	j.undo = j.undo[:snapshot]
}

// SetValue assigns v to *p and journals the previous value.
func SetValue[T any](tx *Tx, p *T, v T) {
	prev := *p
	tx.state.journal.append(func() { *p = prev })
	*p = v
}

// SetMapValue stores v under key and journals the previous entry.
func SetMapValue[K comparable, V any](tx *Tx, m map[K]V, key K, v V) {
	prev, existed := m[key]
	tx.state.journal.append(func() {
		if existed {
			m[key] = prev
		} else {
			delete(m, key)
		}
	})
	m[key] = v
}

// DeleteMapValue removes key and journals the previous entry.
func DeleteMapValue[K comparable, V any](tx *Tx, m map[K]V, key K) {
	prev, existed := m[key]
	if !existed {
		return
	}
	tx.state.journal.append(func() { m[key] = prev })
	delete(m, key)
}
