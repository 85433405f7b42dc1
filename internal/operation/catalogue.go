package operation

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrUnknownOperation is returned by Build for a name that is neither an
// operation nor a set.
var ErrUnknownOperation = errors.New("operation: unknown operation")

// Operation sets accepted by Build.
const (
	SetMinimal   = "minimal"
	SetAll       = "all"
	SetAlt       = "alt"
	SetLifecycle = "lifecycle"
)

// DefaultSets is the operation list of a run without explicit selection.
var DefaultSets = []string{SetMinimal, SetLifecycle}

var minimal = []string{"MPI_Bcast", "MPI_Allgather"}

// normalize folds "MPI_Bcast", "mpi_bcast" and "Bcast" together.
func normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.TrimPrefix(name, "mpi_")
}

// Primitives returns every primitive collective.
func Primitives(count int) []Operation {
	ops := make([]Operation, 0, len(primitives))
	for _, p := range primitives {
		ops = append(ops, newPrimitive(p.name, count, p.call))
	}
	return ops
}

// Minimal returns the default primitive subset.
func Minimal(count int) []Operation {
	ops := make([]Operation, 0, len(minimal))
	for _, name := range minimal {
		op, _ := lookup(name, count)
		ops = append(ops, op)
	}
	return ops
}

// Names of the bisection-tree collectives.
const (
	BcastAlt  = "MPI_Bcast_alt"
	ReduceAlt = "MPI_Reduce_alt"
	GatherAlt = "MPI_Gather_alt"
)

// Trees returns the bisection-tree collectives.
func Trees(count int) []Operation {
	return []Operation{
		newTree(BcastAlt, count, bcastAlt),
		newTree(ReduceAlt, count, reduceAlt),
		newTree(GatherAlt, count, gatherAlt),
	}
}

// BcastAltAt returns a tree broadcast of count elements named after its
// size, so it can be measured next to the run's own MPI_Bcast_alt.
func BcastAltAt(count int) Operation {
	return newTree(fmt.Sprintf("%s(%d)", BcastAlt, count), count, bcastAlt)
}

// Lifecycles returns the resource lifecycle operations.
func Lifecycles() []Operation {
	return []Operation{
		newLifecycle("MPI_Comm_create", commCreate),
		newLifecycle("MPI_Comm_dup", commDup),
		newLifecycle("MPI_Comm_split", commSplit),
		newLifecycle("MPI_Win_create", winCreate),
		CartCreate(3),
	}
}

func lookup(name string, count int) (Operation, bool) {
	key := normalize(name)
	for _, set := range [][]Operation{Primitives(count), Trees(count), Lifecycles()} {
		for _, op := range set {
			if normalize(op.Name()) == key {
				return op, true
			}
		}
	}
	return nil, false
}

// Names returns the name of every known operation.
func Names() []string {
	var names []string
	for _, set := range [][]Operation{Primitives(0), Trees(0), Lifecycles()} {
		for _, op := range set {
			names = append(names, op.Name())
		}
	}
	return names
}

// Build resolves a selection of operation names and set names, in order,
// into fresh operations with count elements per rank. Duplicates are kept
// once.
func Build(selection []string, count int) ([]Operation, error) {
	if len(selection) == 0 {
		selection = DefaultSets
	}
	var ops []Operation
	seen := map[string]bool{}
	add := func(set []Operation) {
		for _, op := range set {
			if !seen[op.Name()] {
				seen[op.Name()] = true
				ops = append(ops, op)
			}
		}
	}
	for _, name := range selection {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "":
		case SetMinimal:
			add(Minimal(count))
		case SetAll:
			add(Primitives(count))
		case SetAlt:
			add(Trees(count))
		case SetLifecycle:
			add(Lifecycles())
		default:
			op, ok := lookup(name, count)
			if !ok {
				return nil, errors.Wrapf(ErrUnknownOperation, "%q", name)
			}
			add([]Operation{op})
		}
	}
	return ops, nil
}
