package interp

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"tapec/pkg/compiler"
)

// machineState is the JSON-serialisable part of a snapshot. The tape travels
// separately as raw bytes.
type machineState struct {
	TapeLength int    `json:"tape_length"`
	Cursor     int    `json:"cursor"`
	Current    int    `json:"current_node"`
	FlowLeft   bool   `json:"flow_left"`
	LoopStack  []int  `json:"loop_stack"`
	Halted     bool   `json:"halted"`
	Steps      uint64 `json:"steps"`
	TreeNodes  int    `json:"tree_nodes"`
	TreeHash   string `json:"tree_hash"`
}

// Snapshot serialises the machine into an in-memory ZIP archive holding
// state.json and tape.bin.
func (m *Machine) Snapshot() ([]byte, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	state := machineState{
		TapeLength: len(m.tape),
		Cursor:     m.cursor,
		Current:    int(m.current),
		FlowLeft:   m.flowLeft,
		LoopStack:  []int{},
		Halted:     m.halted,
		Steps:      m.steps,
		TreeNodes:  len(m.tree.Nodes),
		TreeHash:   treeFingerprint(m.tree),
	}
	for _, id := range m.loopStack.Nodes() {
		state.LoopStack = append(state.LoopStack, int(id))
	}

	jsonData, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	if err := writeZipEntry(zw, "state.json", jsonData); err != nil {
		return nil, err
	}
	if err := writeZipEntry(zw, "tape.bin", m.tape); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}

// Resume rebuilds a machine for tree from an archive produced by Snapshot.
// The tree must be the one the snapshot was taken from.
func Resume(tree *compiler.Tree, data []byte, opts ...Option) (*Machine, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}

	fileMap := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		fileMap[f.Name] = f
	}

	jsonData, err := readZipEntry(fileMap, "state.json")
	if err != nil {
		return nil, err
	}
	var state machineState
	if err := json.Unmarshal(jsonData, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}

	if state.TreeNodes != len(tree.Nodes) {
		return nil, fmt.Errorf("snapshot is for a tree of %d nodes, got %d", state.TreeNodes, len(tree.Nodes))
	}
	if state.TreeHash != treeFingerprint(tree) {
		return nil, fmt.Errorf("snapshot was taken from a different program")
	}

	m, err := New(tree, state.TapeLength, opts...)
	if err != nil {
		return nil, err
	}

	tape, err := readZipEntry(fileMap, "tape.bin")
	if err != nil {
		return nil, err
	}
	if len(tape) != state.TapeLength {
		return nil, fmt.Errorf("tape.bin holds %d cells, state says %d", len(tape), state.TapeLength)
	}
	copy(m.tape, tape)

	if state.Cursor < 0 || state.Cursor >= state.TapeLength {
		return nil, fmt.Errorf("cursor %d out of range", state.Cursor)
	}
	if !state.Halted && !validNode(tree, state.Current) {
		return nil, fmt.Errorf("current node %d out of range", state.Current)
	}
	for _, id := range state.LoopStack {
		if !validNode(tree, id) || tree.Kind(compiler.NodeID(id)) != compiler.LoopOpen {
			return nil, fmt.Errorf("loop stack entry %d is not a loop", id)
		}
		m.loopStack.Push(compiler.NodeID(id))
	}

	m.cursor = state.Cursor
	m.current = compiler.NodeID(state.Current)
	m.flowLeft = state.FlowLeft
	m.halted = state.Halted
	m.steps = state.Steps
	return m, nil
}

// SnapshotToFile writes the snapshot archive to path.
func (m *Machine) SnapshotToFile(path string) error {
	data, err := m.Snapshot()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ResumeFromFile reads a snapshot archive from path and rebuilds the machine.
func ResumeFromFile(tree *compiler.Tree, path string, opts ...Option) (*Machine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Resume(tree, data, opts...)
}

// treeFingerprint hashes the root, then every node's kind and links in arena
// order. Source positions are left out so reformatting a program keeps its
// snapshots valid.
func treeFingerprint(tree *compiler.Tree) string {
	h := sha256.New()
	var buf [8]byte
	put := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	put(int64(tree.Root))
	for i, n := range tree.Nodes {
		put(int64(tree.Kind(compiler.NodeID(i))))
		put(int64(n.Left))
		put(int64(n.Right))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func validNode(tree *compiler.Tree, id int) bool {
	return id >= 0 && id < len(tree.Nodes)
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create zip entry %q: %w", name, err)
	}
	_, err = w.Write(data)
	return err
}

func readZipEntry(fileMap map[string]*zip.File, name string) ([]byte, error) {
	f, ok := fileMap[name]
	if !ok {
		return nil, fmt.Errorf("zip entry %q not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open zip entry %q: %w", name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
