package scheduler

// BatchEvent is published once a batch has fully settled with at least one
// completed upload.
type BatchEvent struct {
	BatchID   string   `json:"batch_id"`
	TaskIDs   []string `json:"task_ids"`
	Completed int      `json:"completed"`
	Failed    int      `json:"failed"`
}

type batchState struct {
	ids       []string
	pending   map[string]struct{}
	completed int
	failed    int
}

// batches tracks open batches. Owned by the scheduler and only touched
// under its lock.
type batches struct {
	open   map[string]*batchState
	member map[string]string
}

func newBatches() *batches {
	return &batches{
		open:   make(map[string]*batchState),
		member: make(map[string]string),
	}
}

func (b *batches) exists(batchID string) bool {
	_, ok := b.open[batchID]
	return ok
}

func (b *batches) add(batchID string, ids []string) {
	st := &batchState{
		ids:     append([]string(nil), ids...),
		pending: make(map[string]struct{}, len(ids)),
	}
	for _, id := range ids {
		st.pending[id] = struct{}{}
		b.member[id] = batchID
	}
	b.open[batchID] = st
}

// settle records the outcome of one task. When that was the batch's last
// unsettled task the batch is discarded, and an event is returned if any
// task in it completed.
func (b *batches) settle(id string, completed bool) (BatchEvent, bool) {
	batchID, ok := b.member[id]
	if !ok {
		return BatchEvent{}, false
	}
	delete(b.member, id)

	st := b.open[batchID]
	if _, pending := st.pending[id]; !pending {
		return BatchEvent{}, false
	}
	delete(st.pending, id)
	if completed {
		st.completed++
	} else {
		st.failed++
	}
	if len(st.pending) > 0 {
		return BatchEvent{}, false
	}

	delete(b.open, batchID)
	if st.completed == 0 {
		return BatchEvent{}, false
	}
	return BatchEvent{
		BatchID:   batchID,
		TaskIDs:   st.ids,
		Completed: st.completed,
		Failed:    st.failed,
	}, true
}

// forget drops membership of ids that were cleared from the tracker. Only
// settled ids are ever passed in, so no open batch loses a pending member.
func (b *batches) forget(ids []string) {
	for _, id := range ids {
		delete(b.member, id)
	}
}
