package domain

import "fmt"

// Message is one role-tagged entry of the transcript sent to the completion
// provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const systemInstruction = "You are a helpful AI assistant that works on tasks. " +
	"Given a task title and description, provide a detailed solution, plan, or result. " +
	"Be concise but thorough. Write in the same language as the task. " +
	"Format your response with clear structure using markdown. " +
	"When feedback on a previous result is provided, revise that result accordingly."

// BuildTranscript assembles the conversation history for one AI attempt.
//
// The order is strictly chronological: the fixed system instruction, the task
// itself, then each prior iteration's result followed immediately by the
// feedback it received, if any. When newFeedback is being submitted in the
// same operation that starts the next iteration it has not been persisted
// onto the previous iteration yet, so it is appended as a trailing user
// message unless that iteration already carries it.
func BuildTranscript(task Task, iterations []AiIteration, newFeedback string) []Message {
	msgs := make([]Message, 0, 2+2*len(iterations)+1)
	msgs = append(msgs, Message{Role: RoleSystem, Content: systemInstruction})

	taskMsg := "Task: " + task.Title
	if task.Description != "" {
		taskMsg += "\n\nDescription: " + task.Description
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: taskMsg})

	for _, it := range iterations {
		msgs = append(msgs, Message{Role: RoleAssistant, Content: it.Result})
		if it.Feedback != "" {
			msgs = append(msgs, Message{
				Role:    RoleUser,
				Content: fmt.Sprintf("Feedback on iteration #%d: %s", it.Number, it.Feedback),
			})
		}
	}

	if newFeedback != "" {
		latestHasFeedback := len(iterations) > 0 && iterations[len(iterations)-1].Feedback != ""
		if !latestHasFeedback {
			msgs = append(msgs, Message{Role: RoleUser, Content: newFeedback})
		}
	}

	return msgs
}
