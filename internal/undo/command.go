package undo

import (
	"errors"
	"fmt"

	"github.com/roach88/strata/internal/graph"
	"github.com/roach88/strata/internal/ir"
)

// Command is one invertible step on the undo stack.
type Command interface {
	Label() string
	Execute() error
	Undo() error
}

// funcCommand is a command built from two closures.
type funcCommand struct {
	label   string
	execute func() error
	undo    func() error
}

func (c *funcCommand) Label() string  { return c.label }
func (c *funcCommand) Execute() error { return c.execute() }
func (c *funcCommand) Undo() error    { return c.undo() }

// Batch is a composite command. Undo unwinds members in reverse order;
// Execute replays them in forward order. Both are all-or-nothing: when a
// member fails, the members already applied are rolled back.
type Batch struct {
	label    string
	commands []Command
}

func (b *Batch) Label() string { return b.label }

// Len returns the number of member commands.
func (b *Batch) Len() int { return len(b.commands) }

func (b *Batch) Execute() error {
	for i, c := range b.commands {
		if err := c.Execute(); err != nil {
			err = fmt.Errorf("%s: step %d (%s): %w", b.label, i+1, c.Label(), err)
			for j := i - 1; j >= 0; j-- {
				if rbErr := b.commands[j].Undo(); rbErr != nil {
					return errors.Join(err, fmt.Errorf("rollback step %d (%s): %w", j+1, b.commands[j].Label(), rbErr))
				}
			}
			return err
		}
	}
	return nil
}

func (b *Batch) Undo() error {
	for i := len(b.commands) - 1; i >= 0; i-- {
		c := b.commands[i]
		if err := c.Undo(); err != nil {
			err = fmt.Errorf("%s: undo step %d (%s): %w", b.label, i+1, c.Label(), err)
			for j := i + 1; j < len(b.commands); j++ {
				if rbErr := b.commands[j].Execute(); rbErr != nil {
					return errors.Join(err, fmt.Errorf("rollback step %d (%s): %w", j+1, b.commands[j].Label(), rbErr))
				}
			}
			return err
		}
	}
	return nil
}

// commandFor converts a graph mutation event into a command. ok is false
// for events that are not undoable mutations.
func commandFor(g *graph.Graph, ev ir.Event) (Command, bool, error) {
	d := ev.Data
	switch ev.Type {
	case graph.EventEntityAdded:
		rec, ok := d.Record("entity")
		if !ok {
			return nil, false, errMalformed(ev, "entity")
		}
		return &funcCommand{
			label:   "add entity " + rec.ID(),
			execute: func() error { _, err := g.AddEntity(rec.Clone()); return err },
			undo:    func() error { _, err := g.RemoveEntity(rec.ID()); return err },
		}, true, nil

	case graph.EventEntityUpdated, graph.EventRelationUpdated:
		before, ok1 := d.Record("before")
		after, ok2 := d.Record("after")
		if !ok1 || !ok2 {
			return nil, false, errMalformed(ev, "before/after")
		}
		id := d.String("id")
		update, kind := g.UpdateEntity, "entity"
		if ev.Type == graph.EventRelationUpdated {
			update, kind = g.UpdateRelation, "relation"
		}
		forward, backward := patchBetween(before, after), patchBetween(after, before)
		return &funcCommand{
			label:   "update " + kind + " " + id,
			execute: func() error { _, err := update(id, ir.Clone(forward).(map[string]any)); return err },
			undo:    func() error { _, err := update(id, ir.Clone(backward).(map[string]any)); return err },
		}, true, nil

	case graph.EventEntityRemoved:
		rec, ok := d.Record("entity")
		if !ok {
			return nil, false, errMalformed(ev, "entity")
		}
		cascade := d.Records("cascade")
		return &funcCommand{
			label:   "remove entity " + rec.ID(),
			execute: func() error { _, err := g.RemoveEntity(rec.ID()); return err },
			undo: func() error {
				if _, err := g.AddEntity(rec.Clone()); err != nil {
					return err
				}
				var errs []error
				for _, r := range cascade {
					if _, err := g.ReinstateRelation(r.Clone()); err != nil {
						errs = append(errs, err)
					}
				}
				return errors.Join(errs...)
			},
		}, true, nil

	case graph.EventRelationAdded:
		rec, ok := d.Record("relation")
		if !ok {
			return nil, false, errMalformed(ev, "relation")
		}
		add := g.AddRelation
		if reinstated, _ := d["reinstated"].(bool); reinstated {
			add = g.ReinstateRelation
		}
		return &funcCommand{
			label:   "add relation " + rec.ID(),
			execute: func() error { _, err := add(rec.Clone()); return err },
			undo:    func() error { _, err := g.RemoveRelation(rec.ID()); return err },
		}, true, nil

	case graph.EventRelationRemoved:
		rec, ok := d.Record("relation")
		if !ok {
			return nil, false, errMalformed(ev, "relation")
		}
		return &funcCommand{
			label:   "remove relation " + rec.ID(),
			execute: func() error { _, err := g.RemoveRelation(rec.ID()); return err },
			undo:    func() error { _, err := g.ReinstateRelation(rec.Clone()); return err },
		}, true, nil
	}
	return nil, false, nil
}

// patchBetween returns the patch that turns from into to. Fields missing
// from to are set to nil, which removes them.
func patchBetween(from, to ir.Record) map[string]any {
	patch := make(map[string]any)
	for k, v := range to {
		if k == ir.FieldID || k == ir.FieldType {
			continue
		}
		if old, ok := from[k]; !ok || !ir.Equal(old, v) {
			patch[k] = ir.Clone(v)
		}
	}
	for k := range from {
		if _, ok := to[k]; !ok {
			patch[k] = nil
		}
	}
	return patch
}

func errMalformed(ev ir.Event, field string) error {
	return fmt.Errorf("event %s (%s): missing %s", ev.ID, ev.Type, field)
}
