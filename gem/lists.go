package gem

import (
	"container/list"

	"github.com/dolthub/swiss"
)

type listKind int

const (
	listActive listKind = iota
	listFlushing
	listInactive
	listPinned
)

var listKindMapping = map[listKind]string{
	listActive:   "Active",
	listFlushing: "Flushing",
	listInactive: "Inactive",
	listPinned:   "Pinned",
}

func (k listKind) String() string {
	return listKindMapping[k]
}

// objectList is an ordered set of objects, oldest at the front. An object is a member of at most
// one objectList at a time; pushBack moves it out of whichever list held it before.
type objectList struct {
	kind    listKind
	engine  *engine
	objects list.List
	index   *swiss.Map[Handle, *list.Element]
}

func newObjectList(kind listKind) *objectList {
	return &objectList{
		kind:  kind,
		index: swiss.NewMap[Handle, *list.Element](16),
	}
}

func (l *objectList) pushBack(o *Object) {
	if o.list == l {
		l.touch(o)
		return
	}

	if o.list != nil {
		o.list.remove(o)
	}

	elem := l.objects.PushBack(o)
	l.index.Put(o.handle, elem)
	o.list = l
}

func (l *objectList) remove(o *Object) {
	elem, ok := l.index.Get(o.handle)
	if !ok {
		return
	}

	l.objects.Remove(elem)
	l.index.Delete(o.handle)
	o.list = nil
}

// touch marks the object as most recently used
func (l *objectList) touch(o *Object) {
	elem, ok := l.index.Get(o.handle)
	if ok {
		l.objects.MoveToBack(elem)
	}
}

func (l *objectList) front() *Object {
	elem := l.objects.Front()
	if elem == nil {
		return nil
	}
	return elem.Value.(*Object)
}

func (l *objectList) len() int {
	return l.objects.Len()
}

// snapshot copies the membership in list order, so the caller may move objects between lists
// while walking it
func (l *objectList) snapshot() []*Object {
	objects := make([]*Object, 0, l.objects.Len())
	for elem := l.objects.Front(); elem != nil; elem = elem.Next() {
		objects = append(objects, elem.Value.(*Object))
	}
	return objects
}

func (l *objectList) bytes() int {
	var total int
	for elem := l.objects.Front(); elem != nil; elem = elem.Next() {
		total += elem.Value.(*Object).boundSize
	}
	return total
}
