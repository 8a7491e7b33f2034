package ir

import "fmt"

// CommandOp is a relation-editing operation on a collection attribute.
type CommandOp int

const (
	// OpCreate creates a new target record and links it.
	OpCreate CommandOp = iota
	// OpUpdate writes values on an already linked target.
	OpUpdate
	// OpDelete deletes a linked target outright.
	OpDelete
	// OpUnlink removes a target from the collection without deleting it.
	OpUnlink
	// OpLink adds an existing target to the collection.
	OpLink
	// OpClear empties the collection.
	OpClear
	// OpSet replaces the contents with an explicit id list.
	OpSet
)

var opNames = [...]string{"create", "update", "delete", "unlink", "link", "clear", "set"}

// String returns the operation name.
func (op CommandOp) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// ParseCommandOp resolves an operation name.
func ParseCommandOp(name string) (CommandOp, error) {
	for n, s := range opNames {
		if s == name {
			return CommandOp(n), nil
		}
	}
	return 0, fmt.Errorf("unknown relation command %q", name)
}

// Command is one relation-editing operation. Which fields are meaningful
// depends on Op: ID for update/delete/unlink/link, IDs for set, Values for
// create/update.
type Command struct {
	Op     CommandOp      `json:"op"`
	ID     ID             `json:"-"`
	IDs    IDs            `json:"-"`
	Values map[string]any `json:"values,omitempty"`
}

// Create returns a create-and-link command.
func Create(values map[string]any) Command {
	return Command{Op: OpCreate, Values: values}
}

// Update returns an update command for the linked target id.
func Update(id ID, values map[string]any) Command {
	return Command{Op: OpUpdate, ID: id, Values: values}
}

// Delete returns a delete command.
func Delete(id ID) Command {
	return Command{Op: OpDelete, ID: id}
}

// Unlink returns an unlink command.
func Unlink(id ID) Command {
	return Command{Op: OpUnlink, ID: id}
}

// Link returns a link command.
func Link(id ID) Command {
	return Command{Op: OpLink, ID: id}
}

// Clear returns a clear command.
func Clear() Command {
	return Command{Op: OpClear}
}

// Set returns a replace-contents command.
func Set(ids ...ID) Command {
	return Command{Op: OpSet, IDs: append(IDs{}, ids...)}
}

// String renders the command for diagnostics.
func (c Command) String() string {
	switch c.Op {
	case OpCreate:
		return fmt.Sprintf("create(%v)", c.Values)
	case OpUpdate:
		return fmt.Sprintf("update(%s, %v)", c.ID, c.Values)
	case OpDelete, OpUnlink, OpLink:
		return fmt.Sprintf("%s(%s)", c.Op, c.ID)
	case OpSet:
		return fmt.Sprintf("set(%v)", c.IDs.Strings())
	default:
		return c.Op.String() + "()"
	}
}

// Pair is the external read representation of a single reference:
// the target id and its display label.
type Pair struct {
	ID    ID     `json:"id"`
	Label string `json:"label"`
}
