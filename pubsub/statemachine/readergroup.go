package statemachine

import "github.com/uacore/eventcore/status"

// AddDataSetReader attaches a DataSetReader to a ReaderGroup. Only one
// DataSetReader per ReaderGroup is supported; a second add is rejected
// rather than silently accepted, since the observed reference behavior
// treats multi-reader ReaderGroups as unimplemented.
func (m *Manager) AddDataSetReader(readerGroup ID, custom CustomStateMachine, hasPrecondition bool) (ID, error) {
	for _, childID := range m.children[readerGroup] {
		if c, ok := m.components[childID]; ok && c.Kind == KindDataSetReader {
			return 0, status.New(status.Internal, "statemachine: multiple DataSetReaders per ReaderGroup are not implemented")
		}
	}
	return m.Add(KindDataSetReader, readerGroup, custom, hasPrecondition)
}
