package apikit

import "context"

// DiffRequirements tells DiffEntities how stored and incoming items relate.
type DiffRequirements[T, D any] struct {
	// Match reports whether incoming describes existing. Required.
	Match func(existing T, incoming D) bool

	// Modified reports whether a matched pair needs an update.
	// Nil treats every matched pair as modified.
	Modified func(existing T, incoming D) bool

	// Create builds a new entity from an unmatched incoming item. Required.
	Create func(incoming D) T

	// Update applies a matched incoming item to its entity. Required.
	Update func(incoming D, existing T) T
}

// DiffResult lists the writes that turn the stored list into the incoming one.
type DiffResult[T any] struct {
	ToCreate []T
	ToUpdate []T
	ToDelete []T
}

// Empty reports whether no write is needed.
func (r DiffResult[T]) Empty() bool {
	return len(r.ToCreate) == 0 && len(r.ToUpdate) == 0 && len(r.ToDelete) == 0
}

// DiffEntities compares a stored list of related entities with an incoming list.
//
// Example:
//
//	diff := apikit.DiffEntities(tags, dto.Tags, apikit.DiffRequirements[*Tag, string]{
//	    Match:  func(t *Tag, name string) bool { return t.Name == name },
//	    Create: func(name string) *Tag { return &Tag{NoteID: note.ID, Name: name} },
//	    Update: func(name string, t *Tag) *Tag { return t },
//	    Modified: func(*Tag, string) bool { return false },
//	})
func DiffEntities[T, D any](existing []T, incoming []D, req DiffRequirements[T, D]) DiffResult[T] {
	var result DiffResult[T]

	for _, e := range existing {
		matched := false
		for _, in := range incoming {
			if !req.Match(e, in) {
				continue
			}
			matched = true
			if req.Modified == nil || req.Modified(e, in) {
				result.ToUpdate = append(result.ToUpdate, req.Update(in, e))
			}
			break
		}
		if !matched {
			result.ToDelete = append(result.ToDelete, e)
		}
	}

	for _, in := range incoming {
		matched := false
		for _, e := range existing {
			if req.Match(e, in) {
				matched = true
				break
			}
		}
		if !matched {
			result.ToCreate = append(result.ToCreate, req.Create(in))
		}
	}
	return result
}

// QueueDiff queues the writes of result on the unit of work in ctx.
// The writes run on the next Save.
func QueueDiff[T Entity[K], K comparable](ctx context.Context, dc *DataContext[T, K], result DiffResult[T]) error {
	for _, e := range result.ToDelete {
		if err := dc.DeleteWithoutSave(ctx, e); err != nil {
			return err
		}
	}
	for _, e := range result.ToUpdate {
		if err := dc.UpdateWithoutSave(ctx, e); err != nil {
			return err
		}
	}
	for _, e := range result.ToCreate {
		if err := dc.CreateWithoutSave(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
