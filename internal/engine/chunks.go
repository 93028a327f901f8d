package engine

import (
	"time"

	"github.com/Veraticus/invoice-match/internal/model"
)

const (
	monthChunkID = "2006-01"
	dayChunkID   = "2006-01-02"
)

// planChunks splits the span covered by the invoices' date windows into
// consecutive chunks. chunkDays of zero yields one chunk per calendar month.
// Chunks no invoice window touches are left out.
func planChunks(invoices []model.Invoice, windowDays, chunkDays int) []model.Chunk {
	if len(invoices) == 0 {
		return nil
	}

	start, end := windowOf(&invoices[0], windowDays)
	for i := 1; i < len(invoices); i++ {
		s, e := windowOf(&invoices[i], windowDays)
		if s.Before(start) {
			start = s
		}
		if e.After(end) {
			end = e
		}
	}

	var chunks []model.Chunk
	for cur := start; cur.Before(end); {
		var next time.Time
		var id string
		if chunkDays > 0 {
			next = cur.AddDate(0, 0, chunkDays)
			id = cur.Format(dayChunkID)
		} else {
			next = time.Date(cur.Year(), cur.Month()+1, 1, 0, 0, 0, 0, time.UTC)
			id = cur.Format(monthChunkID)
		}
		if next.After(end) {
			next = end
		}

		chunk := model.Chunk{ID: id, Start: cur, End: next}
		if len(invoicesInChunk(chunk, invoices, windowDays)) > 0 {
			chunks = append(chunks, chunk)
		}
		cur = next
	}
	return chunks
}

// invoicesInChunk returns the invoices whose date window intersects the chunk.
func invoicesInChunk(chunk model.Chunk, invoices []model.Invoice, windowDays int) []*model.Invoice {
	var out []*model.Invoice
	for i := range invoices {
		start, end := windowOf(&invoices[i], windowDays)
		if start.Before(chunk.End) && chunk.Start.Before(end) {
			out = append(out, &invoices[i])
		}
	}
	return out
}
