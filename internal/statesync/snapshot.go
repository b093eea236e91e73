package statesync

// View selects what a snapshot includes.
type View struct {
	// PlayerID filters perPlayerSlice maps down to the viewer's own key.
	// Empty means no filtering (admin and audit paths see whole maps).
	PlayerID string
	// IncludeServerOnly adds serverOnly fields; only the state hash uses it.
	// Internal fields are never included.
	IncludeServerOnly bool
}

// ViewFor returns the view of a joined player.
func ViewFor(playerID string) View { return View{PlayerID: playerID} }

// FullView is the unfiltered admin view of all synced fields.
var FullView = View{}

// HashView includes serverOnly fields; it feeds state hashing.
var HashView = View{IncludeServerOnly: true}

// BroadcastSnapshot renders only broadcast fields. When an op dirtied no
// per-player slices, one diff of this snapshot serves every session.
func BroadcastSnapshot(schema *Schema, state any) Value {
	obj := NewObject()
	for i := range schema.Fields {
		f := &schema.Fields[i]
		if f.Policy != Broadcast {
			continue
		}
		obj.Set(f.Name, f.Read(state))
	}
	return ObjectValue(obj)
}

// Snapshot renders the state into a snapshot object under the given view.
// Fields appear in declaration order.
func Snapshot(schema *Schema, state any, view View) Value {
	obj := NewObject()
	for i := range schema.Fields {
		f := &schema.Fields[i]
		switch f.Policy {
		case Internal:
			continue
		case ServerOnly:
			if !view.IncludeServerOnly {
				continue
			}
			obj.Set(f.Name, f.Read(state))
		case Broadcast:
			obj.Set(f.Name, f.Read(state))
		case PerPlayerSlice:
			full := f.Read(state)
			if view.PlayerID == "" {
				obj.Set(f.Name, full)
				continue
			}
			slice := NewObject()
			if full.Kind == KindObject {
				if v, ok := full.Obj.Get(view.PlayerID); ok {
					slice.Set(view.PlayerID, v)
				}
			}
			obj.Set(f.Name, ObjectValue(slice))
		}
	}
	return ObjectValue(obj)
}
