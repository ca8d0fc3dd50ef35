package ingestion

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/poiesic/syllabus/core"
)

// Structure is a book's validated table-of-contents tree.
type Structure struct {
	BookID core.ID
	Root   *core.StructureNode

	// Nodes lists every node in pre-order, root first.
	Nodes []*core.StructureNode

	byRef map[string]*core.StructureNode
	byID  map[core.ID]*core.StructureNode
}

// Resolve returns the node created for a section ref.
func (s *Structure) Resolve(ref string) (*core.StructureNode, bool) {
	n, ok := s.byRef[ref]
	return n, ok
}

// Node returns the node with the given ID.
func (s *Structure) Node(id core.ID) (*core.StructureNode, bool) {
	n, ok := s.byID[id]
	return n, ok
}

// NodeID derives the ID of the node holding a sequence index.
func NodeID(bookID core.ID, sequence int) core.ID {
	return core.IDFromContent(string(bookID), strconv.Itoa(sequence))
}

type openSection struct {
	level int
	node  *core.StructureNode
}

// BuildStructure turns section records in document order into a tree under a
// synthetic root. Sequence indexes are assigned in one pass starting at 1, so
// a record never precedes its parent. A record whose declared parent is
// unknown is attached to the nearest open section of a lower level, or to the
// root. The same input always produces the same IDs and sequence indexes.
func BuildStructure(bookID core.ID, title string, sections []core.SectionRecord) (*Structure, error) {
	if bookID == "" {
		return nil, fmt.Errorf("%w: missing book id", core.ErrInvalidNode)
	}

	root := &core.StructureNode{
		ID:     NodeID(bookID, 0),
		BookID: bookID,
		Title:  title,
	}
	s := &Structure{
		BookID: bookID,
		Root:   root,
		Nodes:  make([]*core.StructureNode, 0, len(sections)+1),
		byRef:  make(map[string]*core.StructureNode, len(sections)),
		byID:   make(map[core.ID]*core.StructureNode, len(sections)+1),
	}
	s.add(root)

	// stack of open sections, strictly increasing by declared level
	var stack []openSection
	for i, rec := range sections {
		if rec.Ref != "" {
			if _, dup := s.byRef[rec.Ref]; dup {
				return nil, fmt.Errorf("%w: duplicate section ref %q", core.ErrInvalidNode, rec.Ref)
			}
		}

		for len(stack) > 0 && stack[len(stack)-1].level >= rec.Level {
			stack = stack[:len(stack)-1]
		}
		parent := root
		if declared, ok := s.byRef[rec.ParentRef]; rec.ParentRef != "" && ok {
			parent = declared
		} else if len(stack) > 0 {
			parent = stack[len(stack)-1].node
		}

		seq := i + 1
		node := &core.StructureNode{
			ID:            NodeID(bookID, seq),
			BookID:        bookID,
			ParentID:      parent.ID,
			NodeLevel:     parent.NodeLevel + 1,
			Title:         strings.TrimSpace(rec.Title),
			SequenceIndex: seq,
			PageStart:     rec.PageStart,
			PageEnd:       rec.PageEnd,
			Metadata:      rec.Metadata.Clone(),
		}
		if rec.ContentRef != "" {
			if node.Metadata == nil {
				node.Metadata = core.Metadata{}
			}
			node.Metadata["content_ref"] = rec.ContentRef
		}
		if err := core.ValidateNode(node); err != nil {
			return nil, fmt.Errorf("section %d (%q): %w", seq, rec.Ref, err)
		}

		s.add(node)
		if rec.Ref != "" {
			s.byRef[rec.Ref] = node
		}
		stack = append(stack, openSection{level: rec.Level, node: node})
	}
	return s, nil
}

func (s *Structure) add(n *core.StructureNode) {
	s.Nodes = append(s.Nodes, n)
	s.byID[n.ID] = n
}
