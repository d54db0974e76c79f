package gateway

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/kotobaquest/battle/internal/battle"
	"github.com/kotobaquest/battle/internal/matchqueue"
)

// clientMessage is the envelope clients send over the socket.
type clientMessage struct {
	Action             string     `json:"action"`
	Rating             int        `json:"rating,omitempty"`
	ParticipantID      *uuid.UUID `json:"participant_id,omitempty"`
	Accepted           *bool      `json:"accepted,omitempty"`
	RoundParticipantID *uuid.UUID `json:"round_participant_id,omitempty"`
	CombatantID        *uuid.UUID `json:"combatant_id,omitempty"`
	RoundQuestionID    *uuid.UUID `json:"round_question_id,omitempty"`
	AnswerID           *uuid.UUID `json:"answer_id,omitempty"`
}

const (
	actionJoinQueue  = "join_queue"
	actionLeaveQueue = "leave_queue"
	actionRespond    = "respond"
	actionSelect     = "select_combatant"
	actionAnswer     = "answer"
)

// handleClientMessage parses and routes one client command. Malformed or
// rejected commands are logged and dropped; races inside the core already
// come back as silent no-ops.
func (cm *ConnectionManager) handleClientMessage(ctx context.Context, c *Connection, message []byte) {
	var msg clientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Warn().Err(err).Str("connection_id", c.ID).Msg("malformed client message")
		return
	}

	var err error
	switch msg.Action {
	case actionJoinQueue:
		cm.commands.JoinQueue(ctx, c.PlayerID, msg.Rating)
	case actionLeaveQueue:
		cm.commands.LeaveQueue(ctx, c.PlayerID)
	case actionRespond:
		if msg.ParticipantID == nil || msg.Accepted == nil {
			log.Warn().Str("connection_id", c.ID).Msg("respond command missing fields")
			return
		}
		err = cm.commands.RespondToMatch(ctx, *msg.ParticipantID, *msg.Accepted)
	case actionSelect:
		if msg.RoundParticipantID == nil || msg.CombatantID == nil {
			log.Warn().Str("connection_id", c.ID).Msg("select command missing fields")
			return
		}
		err = cm.commands.SelectCombatant(ctx, *msg.RoundParticipantID, *msg.CombatantID)
	case actionAnswer:
		if msg.RoundQuestionID == nil || msg.AnswerID == nil {
			log.Warn().Str("connection_id", c.ID).Msg("answer command missing fields")
			return
		}
		err = cm.commands.SubmitAnswer(ctx, *msg.RoundQuestionID, *msg.AnswerID)
	default:
		log.Warn().
			Str("action", msg.Action).
			Str("connection_id", c.ID).
			Msg("unknown client action")
		return
	}

	if err != nil {
		log.Warn().
			Err(err).
			Str("action", msg.Action).
			Str("player_id", c.PlayerID.String()).
			Msg("client command rejected")
	}
}

// Commands wires the client actions to the queue and the battle core.
type Commands struct {
	Queue   *matchqueue.Queue
	Battles *battle.Service
	Clock   clockwork.Clock
}

func (c *Commands) JoinQueue(ctx context.Context, playerID uuid.UUID, rating int) {
	c.Queue.Enqueue(playerID, rating, c.Clock.Now())
}

func (c *Commands) LeaveQueue(ctx context.Context, playerID uuid.UUID) {
	c.Queue.Dequeue(playerID)
}

func (c *Commands) RespondToMatch(ctx context.Context, participantID uuid.UUID, accepted bool) error {
	return c.Battles.RespondToMatch(ctx, participantID, accepted)
}

func (c *Commands) SelectCombatant(ctx context.Context, roundParticipantID, combatantID uuid.UUID) error {
	return c.Battles.SelectCombatant(ctx, roundParticipantID, combatantID)
}

func (c *Commands) SubmitAnswer(ctx context.Context, roundQuestionID, answerID uuid.UUID) error {
	return c.Battles.SubmitAnswer(ctx, roundQuestionID, answerID)
}
