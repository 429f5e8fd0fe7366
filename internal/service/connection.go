package service

import (
	"context"
	"time"

	"github.com/capitalize-ai/commerce-sync/internal/backend"
	"github.com/capitalize-ai/commerce-sync/internal/model"
	"github.com/capitalize-ai/commerce-sync/pkg/apperror"
)

// SendPartnershipRequest proposes a partnership from one business to another.
func (s *CollaborationService) SendPartnershipRequest(ctx context.Context, req model.SendPartnershipRequest) (pr *model.PartnershipRequest, err error) {
	const op = "collaboration.SendPartnershipRequest"
	ctx, userID, done, err := s.begin(ctx, "SendPartnershipRequest")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	switch {
	case req.RequesterBusinessID == "" || req.TargetBusinessID == "":
		return nil, apperror.Validation(op, "both businesses are required")
	case req.RequesterBusinessID == req.TargetBusinessID:
		return nil, apperror.Validation(op, "a business cannot partner with itself")
	case req.TargetUserID == "":
		return nil, apperror.Validation(op, "target user is required")
	case req.TargetUserID == userID:
		return nil, apperror.Validation(op, "you cannot send a request to yourself")
	}

	row := backend.Row{
		"requester_business_id": req.RequesterBusinessID,
		"target_business_id":    req.TargetBusinessID,
		"requested_by":          userID,
		"target_user_id":        req.TargetUserID,
		"message":               req.Message,
		"status":                string(model.RequestPending),
	}
	if req.CollaborationID != nil && *req.CollaborationID != "" {
		row["collaboration_id"] = *req.CollaborationID
	}
	stored, err := s.store.Insert(ctx, backend.TablePartnershipRequests, row)
	if err != nil {
		return nil, err
	}
	return decodeOne[model.PartnershipRequest](stored)
}

// RespondToPartnershipRequest accepts or rejects a pending request addressed
// to the user.
func (s *CollaborationService) RespondToPartnershipRequest(ctx context.Context, id string, accept bool) (pr *model.PartnershipRequest, err error) {
	ctx, userID, done, err := s.begin(ctx, "RespondToPartnershipRequest")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	row, err := s.single(ctx, backend.TablePartnershipRequests, backend.Eq("id", id))
	if err != nil {
		return nil, err
	}
	pr, err = decodeOne[model.PartnershipRequest](row)
	if err != nil {
		return nil, err
	}
	if pr.RequestedBy == userID || pr.TargetUserID != userID {
		return nil, apperror.E(apperror.KindForbidden, "", "only the recipient can respond to this request")
	}

	respondedAt, err := s.respond(ctx, backend.TablePartnershipRequests, id, pr.Status, accept)
	if err != nil {
		return nil, err
	}
	pr.Status = model.Responded(accept)
	pr.RespondedAt = &respondedAt
	return pr, nil
}

// ListPartnershipRequests returns requests sent or received by the user,
// newest first.
func (s *CollaborationService) ListPartnershipRequests(ctx context.Context, direction model.RequestDirection, limit, offset int) (reqs []model.PartnershipRequest, err error) {
	const op = "collaboration.ListPartnershipRequests"
	ctx, userID, done, err := s.begin(ctx, "ListPartnershipRequests")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	limit, offset = page(limit, offset)
	incoming := []backend.Filter{backend.Eq("target_user_id", userID)}
	outgoing := []backend.Filter{backend.Eq("requested_by", userID)}
	newest := backend.Order{Column: "created_at", Desc: true}

	var rows []backend.Row
	switch direction {
	case model.DirectionIncoming, model.DirectionOutgoing:
		filters := incoming
		if direction == model.DirectionOutgoing {
			filters = outgoing
		}
		rows, err = s.store.Select(ctx, backend.TablePartnershipRequests, backend.Query{
			Filters: filters,
			Order:   []backend.Order{newest},
			Offset:  offset,
			Limit:   limit,
		})
	case model.DirectionAll, "":
		rows, err = s.selectEither(ctx, backend.TablePartnershipRequests, incoming, outgoing, newest, limit, offset)
	default:
		return nil, apperror.Validation(op, "unknown direction %q", direction)
	}
	if err != nil {
		return nil, err
	}
	return backend.DecodeAll[model.PartnershipRequest](rows)
}

// SendConnectionRequest asks another user to connect. Requests to oneself
// are rejected without writing anything; a pending or accepted connection
// between the two users in either direction is a Conflict.
func (s *CollaborationService) SendConnectionRequest(ctx context.Context, targetUserID, message string) (conn *model.UserConnection, err error) {
	const op = "collaboration.SendConnectionRequest"
	ctx, userID, done, err := s.begin(ctx, "SendConnectionRequest")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	if targetUserID == "" {
		return nil, apperror.Validation(op, "target user is required")
	}
	if targetUserID == userID {
		return nil, apperror.Validation(op, "you cannot connect with yourself")
	}

	live := backend.In("status", []string{string(model.RequestPending), string(model.RequestAccepted)})
	existing, err := s.selectEither(ctx, backend.TableUserConnections,
		[]backend.Filter{backend.Eq("requester_id", userID), backend.Eq("addressee_id", targetUserID), live},
		[]backend.Filter{backend.Eq("requester_id", targetUserID), backend.Eq("addressee_id", userID), live},
		backend.Order{Column: "created_at", Desc: true}, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, apperror.E(apperror.KindConflict, "", "a connection with this user already exists")
	}

	row, err := s.store.Insert(ctx, backend.TableUserConnections, backend.Row{
		"requester_id": userID,
		"addressee_id": targetUserID,
		"message":      message,
		"status":       string(model.RequestPending),
	})
	if err != nil {
		return nil, err
	}
	return decodeOne[model.UserConnection](row)
}

// RespondToConnectionRequest accepts or rejects a pending request addressed
// to the user.
func (s *CollaborationService) RespondToConnectionRequest(ctx context.Context, id string, accept bool) (conn *model.UserConnection, err error) {
	ctx, userID, done, err := s.begin(ctx, "RespondToConnectionRequest")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	conn, err = s.loadConnection(ctx, id)
	if err != nil {
		return nil, err
	}
	if conn.AddresseeID != userID {
		return nil, apperror.E(apperror.KindForbidden, "", "only the recipient can respond to this request")
	}

	respondedAt, err := s.respond(ctx, backend.TableUserConnections, id, conn.Status, accept)
	if err != nil {
		return nil, err
	}
	conn.Status = model.Responded(accept)
	conn.RespondedAt = &respondedAt
	return conn, nil
}

// ListConnections returns connections the user is part of, newest first. An
// empty status lists every status.
func (s *CollaborationService) ListConnections(ctx context.Context, status model.RequestStatus, limit, offset int) (conns []model.UserConnection, err error) {
	const op = "collaboration.ListConnections"
	ctx, userID, done, err := s.begin(ctx, "ListConnections")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	limit, offset = page(limit, offset)
	sent := []backend.Filter{backend.Eq("requester_id", userID)}
	received := []backend.Filter{backend.Eq("addressee_id", userID)}
	if status != "" {
		if !status.Valid() {
			return nil, apperror.Validation(op, "unknown status %q", status)
		}
		sent = append(sent, backend.Eq("status", string(status)))
		received = append(received, backend.Eq("status", string(status)))
	}
	rows, err := s.selectEither(ctx, backend.TableUserConnections, sent, received,
		backend.Order{Column: "created_at", Desc: true}, limit, offset)
	if err != nil {
		return nil, err
	}
	return backend.DecodeAll[model.UserConnection](rows)
}

// RemoveConnection deletes a connection or request. Either party may remove it.
func (s *CollaborationService) RemoveConnection(ctx context.Context, id string) (err error) {
	ctx, userID, done, err := s.begin(ctx, "RemoveConnection")
	if err != nil {
		return err
	}
	defer done(&err)

	conn, err := s.loadConnection(ctx, id)
	if err != nil {
		return err
	}
	if conn.RequesterID != userID && conn.AddresseeID != userID {
		return apperror.E(apperror.KindForbidden, "", "not your connection")
	}
	n, err := s.store.Delete(ctx, backend.TableUserConnections, backend.Eq("id", id))
	if err != nil {
		return err
	}
	if n == 0 {
		return apperror.E(apperror.KindNotFound, "", "connection not found")
	}
	return nil
}

func (s *CollaborationService) loadConnection(ctx context.Context, id string) (*model.UserConnection, error) {
	row, err := s.single(ctx, backend.TableUserConnections, backend.Eq("id", id))
	if backend.IsNoRows(err) {
		return nil, apperror.E(apperror.KindNotFound, "", "connection not found")
	}
	if err != nil {
		return nil, err
	}
	return decodeOne[model.UserConnection](row)
}

// respond moves a pending request to accepted or rejected. The update is
// conditional on the row still being pending, so a concurrent response
// surfaces as a Conflict.
func (b *base) respond(ctx context.Context, table, id string, current model.RequestStatus, accept bool) (time.Time, error) {
	if current != model.RequestPending {
		return time.Time{}, apperror.E(apperror.KindConflict, "", "this request was already answered")
	}
	respondedAt := b.now().UTC()
	n, err := b.store.Update(ctx, table,
		backend.Row{"status": string(model.Responded(accept)), "responded_at": backend.FormatTime(respondedAt)},
		backend.Eq("id", id), backend.Eq("status", string(model.RequestPending)),
	)
	if err != nil {
		return time.Time{}, err
	}
	if n == 0 {
		return time.Time{}, apperror.E(apperror.KindConflict, "", "this request was already answered")
	}
	return respondedAt, nil
}
