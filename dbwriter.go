package gallery

// NotifyingWriter publishes a change on its feed after every successful
// write to the wrapped store.
type NotifyingWriter struct {
	DBWriter
	feed *ChangeFeed
}

func NewNotifyingWriter(w DBWriter, feed *ChangeFeed) *NotifyingWriter {
	return &NotifyingWriter{DBWriter: w, feed: feed}
}

func (w *NotifyingWriter) AddItem(rec MediaRecord, data []byte) error {
	if err := w.DBWriter.AddItem(rec, data); err != nil {
		return err
	}
	w.feed.Publish()
	return nil
}

func (w *NotifyingWriter) AddItemsBatch(items []ItemData) error {
	if err := w.DBWriter.AddItemsBatch(items); err != nil {
		return err
	}
	w.feed.Publish()
	return nil
}
