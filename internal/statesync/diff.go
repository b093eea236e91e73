package statesync

// Diff computes the minimal patch list transforming prev into next.
// Objects recurse key by key; arrays and primitive leaves are replaced
// atomically. Patch order within one object level: removes for vanished
// keys, then adds/recursion in next's declaration order.
func Diff(prev, next Value) []Patch {
	return diffAt("", prev, next)
}

// FirstSync renders a snapshot as the patch list that builds it from the
// empty object.
func FirstSync(snapshot Value) []Patch {
	empty := ObjectValue(NewObject())
	return Diff(empty, snapshot)
}

func diffAt(path string, prev, next Value) []Patch {
	if prev.Kind == KindObject && next.Kind == KindObject {
		return diffObjects(path, prev.Obj, next.Obj)
	}
	if prev.Equal(next) {
		return nil
	}
	return []Patch{replacePatch(path, next.Clone())}
}

func diffObjects(path string, prev, next *Object) []Patch {
	var patches []Patch
	for _, k := range prev.Keys() {
		if _, ok := next.Get(k); !ok {
			patches = append(patches, removePatch(path+"/"+escapePointer(k)))
		}
	}
	for _, k := range next.Keys() {
		nv, _ := next.Get(k)
		pv, ok := prev.Get(k)
		if !ok {
			patches = append(patches, addPatch(path+"/"+escapePointer(k), nv.Clone()))
			continue
		}
		patches = append(patches, diffAt(path+"/"+escapePointer(k), pv, nv)...)
	}
	return patches
}
