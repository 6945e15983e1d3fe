package kge

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
)

// Names resolves ids to the names written next to each embedding row.
type Names interface {
	GetEntityName(id int64) string
	GetRelationName(id int64) string
}

// SaveEmbeddings writes the entity and relation tables as text: a
// "<count> <dim>" header followed by one "name v1 v2 ..." line per row.
func (m *Model) SaveEmbeddings(entityFile, relationFile string, names Names) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.saveTable(entityFile, EntityTable, names.GetEntityName); err != nil {
		return err
	}
	m.logger.Info("entities saved", "file", entityFile)

	if err := m.saveTable(relationFile, RelationTable, names.GetRelationName); err != nil {
		return err
	}
	m.logger.Info("relations saved", "file", relationFile)
	return nil
}

func (m *Model) saveTable(filename string, t Table, name func(int64) string) (err error) {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create %s file: %w", t, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", filename, cerr)
		}
	}()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "%d %d\n", m.store.Size(t), m.store.Dim(t))
	for id := int64(0); id < m.store.Size(t); id++ {
		label := name(id)
		if label == "" {
			label = strconv.FormatInt(id, 10)
		}
		w.WriteString(label)
		row, _ := m.store.Row(t, id)
		for _, v := range row {
			fmt.Fprintf(w, " %.6f", v)
		}
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}
	return nil
}
