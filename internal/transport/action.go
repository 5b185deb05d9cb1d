package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// Action is the closed set of button/context actions. Adapters decode
// wire identifiers into these variants once, at the boundary, and
// dispatch with a type switch.
type Action interface{ isAction() }

// RegenerateAction asks the engine to regenerate the reply whose input
// message id is InputID.
type RegenerateAction struct{ InputID string }

// AllowActorAction grants the actor access (owner button).
type AllowActorAction struct{ ActorID int64 }

// BlockActorAction blocks the actor (owner button).
type BlockActorAction struct{ ActorID int64 }

func (RegenerateAction) isAction() {}
func (AllowActorAction) isAction() {}
func (BlockActorAction) isAction() {}

// EncodeAction renders an action as compact wire data for callback
// payloads. The format matches the dotted ids the buttons have always
// used: "msg.generate.<id>", "user.allow.<id>", "user.block.<id>".
func EncodeAction(a Action) string {
	switch v := a.(type) {
	case RegenerateAction:
		return "msg.generate." + v.InputID
	case AllowActorAction:
		return fmt.Sprintf("user.allow.%d", v.ActorID)
	case BlockActorAction:
		return fmt.Sprintf("user.block.%d", v.ActorID)
	default:
		return ""
	}
}

// DecodeAction parses wire data back into an Action. Unknown or
// malformed data returns nil.
func DecodeAction(data string) Action {
	parts := strings.SplitN(data, ".", 3)
	if len(parts) != 3 {
		return nil
	}
	switch parts[0] + "." + parts[1] {
	case "msg.generate":
		if parts[2] == "" {
			return nil
		}
		return RegenerateAction{InputID: parts[2]}
	case "user.allow":
		id, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return nil
		}
		return AllowActorAction{ActorID: id}
	case "user.block":
		id, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return nil
		}
		return BlockActorAction{ActorID: id}
	default:
		return nil
	}
}
