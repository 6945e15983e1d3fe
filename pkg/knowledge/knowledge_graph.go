package knowledge

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// KnowledgeGraph holds the entity and relation dictionaries of a temporal
// knowledge graph. Train, valid and test files loaded into the same graph
// share one id space.
type KnowledgeGraph struct {
	EntityHash   map[string]int64
	RelationHash map[string]int64
	EntityKeys   []string
	RelationKeys []string

	NumEntities  int64
	NumRelations int64

	Logger *slog.Logger
}

// NewKnowledgeGraph creates an empty knowledge graph.
func NewKnowledgeGraph() *KnowledgeGraph {
	return &KnowledgeGraph{
		EntityHash:   make(map[string]int64),
		RelationHash: make(map[string]int64),
		EntityKeys:   make([]string, 0),
		RelationKeys: make([]string, 0),
		Logger:       slog.Default(),
	}
}

// LoadQuadruples reads a temporal fact file and returns its triples.
// Format: head relation tail date
// Example: "Barack_Obama visit Japan 2014-04-23"
func (kg *KnowledgeGraph) LoadQuadruples(filename string) ([]Triple, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filename, err)
	}
	defer file.Close()

	triples := make([]Triple, 0)
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 4 {
			return nil, fmt.Errorf("%s:%d: want head relation tail date, got %d fields", filename, lineNo, len(parts))
		}

		tokens, err := TokenizeDate(parts[3])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", filename, lineNo, err)
		}

		triples = append(triples, Triple{
			Head:     kg.getOrCreateEntity(parts[0]),
			Relation: kg.getOrCreateRelation(parts[1]),
			Tail:     kg.getOrCreateEntity(parts[2]),
			Time:     tokens,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}

	kg.NumEntities = int64(len(kg.EntityKeys))
	kg.NumRelations = int64(len(kg.RelationKeys))

	kg.Logger.Info("loaded temporal facts",
		"file", filename,
		"triples", len(triples),
		"entities", kg.NumEntities,
		"relations", kg.NumRelations)
	return triples, nil
}

func (kg *KnowledgeGraph) getOrCreateEntity(name string) int64 {
	if id, exists := kg.EntityHash[name]; exists {
		return id
	}

	id := int64(len(kg.EntityKeys))
	kg.EntityHash[name] = id
	kg.EntityKeys = append(kg.EntityKeys, name)
	return id
}

func (kg *KnowledgeGraph) getOrCreateRelation(name string) int64 {
	if id, exists := kg.RelationHash[name]; exists {
		return id
	}

	id := int64(len(kg.RelationKeys))
	kg.RelationHash[name] = id
	kg.RelationKeys = append(kg.RelationKeys, name)
	return id
}

// GetEntityName returns the name of an entity by ID
func (kg *KnowledgeGraph) GetEntityName(id int64) string {
	if id < 0 || id >= int64(len(kg.EntityKeys)) {
		return ""
	}
	return kg.EntityKeys[id]
}

// GetRelationName returns the name of a relation by ID
func (kg *KnowledgeGraph) GetRelationName(id int64) string {
	if id < 0 || id >= int64(len(kg.RelationKeys)) {
		return ""
	}
	return kg.RelationKeys[id]
}
