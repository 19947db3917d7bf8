package command

// Validate checks an action for completeness before execution. A
// failing rule routes the command to skipped, not failed: an
// incomplete action is an extraction problem, not an execution error.
func Validate(a *Action) (bool, string) {
	switch a.Type {
	case ActionSendMessage:
		if a.TargetContact == nil || a.TargetContact.Phone == "" {
			name := a.TargetName
			if name == "" && a.TargetContact != nil {
				name = a.TargetContact.Name
			}
			if name == "" {
				return false, "send_message has no target contact"
			}
			return false, "no phone number on file for " + name
		}
		if a.Message == "" {
			return false, "send_message has an empty message"
		}
	case ActionAddTask:
		if a.TaskDetails == "" {
			return false, "add_task has an empty title"
		}
	case ActionAddGrocery:
		if a.GroceryItem == "" {
			return false, "add_grocery_item has an empty item"
		}
	case ActionSetReminder:
		if a.ReminderMessage == "" {
			return false, "set_reminder has an empty message"
		}
	case ActionScheduleEvent:
		if a.EventTitle == "" {
			return false, "schedule_event has an empty title"
		}
	case ActionSearchInfo:
		if a.SearchQuery == "" {
			return false, "search_info has an empty query"
		}
	default:
		return false, "unknown action type " + string(a.Type)
	}
	return true, ""
}
