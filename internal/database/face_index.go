package database

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/coder/hnsw"
)

// faceIndexMaxNeighbors (M) is the maximum number of neighbors per node.
const faceIndexMaxNeighbors = 16

// LookupThreshold is the maximum cosine distance for a lookup-by-face
// candidate to be considered a plausible match.
const LookupThreshold = 0.5

// FaceIndex wraps an HNSW graph over student primary embeddings. It backs
// the lookup-by-face path used to suggest candidates when the QR token is
// unreadable.
type FaceIndex struct {
	graph      *hnsw.Graph[string]
	savedGraph *hnsw.SavedGraph[string]
	idToName   map[string]string // student ID -> name, for candidate display
	mu         sync.RWMutex
	path       string
}

// Candidate is one lookup-by-face result.
type Candidate struct {
	StudentID string  `json:"student_id"`
	Name      string  `json:"name"`
	Distance  float64 `json:"distance"`
}

// NewFaceIndex creates a new empty face index.
func NewFaceIndex() *FaceIndex {
	return &FaceIndex{
		idToName: make(map[string]string),
	}
}

// Build populates the index from student records. Students without a
// primary embedding are skipped.
func (f *FaceIndex) Build(students []Student) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(students) == 0 {
		f.graph = nil
		f.savedGraph = nil
		f.idToName = make(map[string]string)
		return nil
	}

	g := hnsw.NewGraph[string]()
	g.M = faceIndexMaxNeighbors
	g.Ml = 1.0 / float64(faceIndexMaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.CosineDistance

	f.idToName = make(map[string]string, len(students))
	for i := range students {
		s := &students[i]
		if len(s.PrimaryEmbedding) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(s.ID, s.PrimaryEmbedding))
		f.idToName[s.ID] = s.Name
	}

	f.graph = g
	return nil
}

// Add indexes a single student.
func (f *FaceIndex) Add(student *Student) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(student.PrimaryEmbedding) == 0 {
		return nil
	}

	if f.savedGraph != nil {
		// SavedGraph embeds *Graph, so new students go straight into it.
		f.savedGraph.Add(hnsw.MakeNode(student.ID, student.PrimaryEmbedding))
		f.idToName[student.ID] = student.Name
		return nil
	}

	if f.graph == nil {
		f.graph = hnsw.NewGraph[string]()
		f.graph.M = faceIndexMaxNeighbors
		f.graph.Ml = 1.0 / float64(faceIndexMaxNeighbors)
		f.graph.Distance = hnsw.CosineDistance
	}

	f.graph.Add(hnsw.MakeNode(student.ID, student.PrimaryEmbedding))
	f.idToName[student.ID] = student.Name
	return nil
}

// Search finds up to k candidates whose primary embedding is within
// maxDistance of the query embedding, nearest first.
func (f *FaceIndex) Search(query []float32, k int, maxDistance float64) ([]Candidate, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.graph == nil && f.savedGraph == nil {
		return nil, errors.New("face index not initialized")
	}

	var neighbors []hnsw.Node[string]
	if f.savedGraph != nil {
		neighbors = f.savedGraph.Search(query, k)
	} else {
		neighbors = f.graph.Search(query, k)
	}

	candidates := make([]Candidate, 0, len(neighbors))
	for _, n := range neighbors {
		if len(n.Value) == 0 {
			continue
		}
		d := float64(hnsw.CosineDistance(query, n.Value))
		if maxDistance > 0 && d > maxDistance {
			continue
		}
		name, ok := f.idToName[n.Key]
		if !ok {
			// Removed from the lookup map; HNSW has no true deletion.
			continue
		}
		candidates = append(candidates, Candidate{
			StudentID: n.Key,
			Name:      name,
			Distance:  d,
		})
	}
	return candidates, nil
}

// Remove drops a student from lookup results.
func (f *FaceIndex) Remove(studentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.idToName, studentID)
}

// Count returns the number of indexed students.
func (f *FaceIndex) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.idToName)
}

// Save persists the graph to the configured path. A nil graph removes the
// file.
func (f *FaceIndex) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.path == "" {
		return nil
	}

	if f.graph == nil && f.savedGraph == nil {
		_ = os.Remove(f.path)
		return nil
	}

	file, err := os.Create(f.path)
	if err != nil {
		return fmt.Errorf("failed to create face index file: %w", err)
	}
	defer file.Close()

	// SavedGraph embeds *Graph, so Export works on either.
	if f.savedGraph != nil {
		if err := f.savedGraph.Export(file); err != nil {
			return fmt.Errorf("exporting face index graph: %w", err)
		}
		return nil
	}
	if err := f.graph.Export(file); err != nil {
		return fmt.Errorf("exporting face index graph: %w", err)
	}
	return nil
}

// Load loads a previously saved graph. Missing files are not an error; the
// index is rebuilt from the store instead.
func (f *FaceIndex) Load(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.path = path

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	saved, err := hnsw.LoadSavedGraph[string](path)
	if err != nil {
		return fmt.Errorf("failed to load face index: %w", err)
	}

	f.savedGraph = saved
	return nil
}

// Loaded reports whether a persisted graph backs the index.
func (f *FaceIndex) Loaded() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.savedGraph != nil
}

// SetPath sets the persistence path without loading.
func (f *FaceIndex) SetPath(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.path = path
}

// RebuildNames repopulates the ID-to-name map after loading a saved graph.
func (f *FaceIndex) RebuildNames(students []Student) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.idToName = make(map[string]string, len(students))
	for i := range students {
		if len(students[i].PrimaryEmbedding) == 0 {
			continue
		}
		f.idToName[students[i].ID] = students[i].Name
	}
}
