package billing

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mentalspace/ehr/internal/domain/scheduling"
	"github.com/mentalspace/ehr/internal/platform/apperr"
	"github.com/mentalspace/ehr/internal/platform/blobstore"
	"github.com/mentalspace/ehr/internal/platform/clearinghouse"
	"github.com/mentalspace/ehr/internal/platform/db"
	"github.com/mentalspace/ehr/internal/platform/validate"
)

// placeOfService maps appointment locations to CMS place-of-service codes.
var placeOfService = map[string]string{
	scheduling.LocationOffice:     "11",
	scheduling.LocationTelehealth: "10",
	scheduling.LocationHome:       "12",
	scheduling.LocationSchool:     "03",
	scheduling.LocationCommunity:  "99",
}

func (s *Service) CreateClaim(ctx context.Context, c *Claim) error {
	if c.Units == 0 {
		c.Units = 1
	}
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.PolicyID == nil {
		p, err := s.PrimaryPolicy(ctx, c.ClientID)
		if err != nil {
			return err
		}
		if p != nil {
			c.PolicyID = &p.ID
		}
	}
	c.Status = ClaimDraft
	c.PaidCents = 0
	c.ClearinghouseID = ""
	c.SyncState = SyncState{SyncStatus: SyncPending}
	return s.claims.Create(ctx, c)
}

// ClaimFromAppointmentRequest supplies what the appointment cannot: the
// diagnoses and the charge. CPTCode overrides the appointment type's code.
type ClaimFromAppointmentRequest struct {
	ClientID    *uuid.UUID `json:"client_id,omitempty"`
	ICD10Codes  []string   `json:"icd10_codes"`
	ChargeCents int64      `json:"charge_cents"`
	CPTCode     string     `json:"cpt_code,omitempty"`
	Units       int        `json:"units,omitempty"`
	PolicyID    *uuid.UUID `json:"policy_id,omitempty"`
}

// CreateClaimFromAppointment drafts a claim for a completed appointment.
// Group sessions need ClientID to pick the billed client.
func (s *Service) CreateClaimFromAppointment(ctx context.Context, appointmentID uuid.UUID, req ClaimFromAppointmentRequest) (*Claim, error) {
	a, err := s.appointments.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if a.Status != scheduling.StatusCompleted {
		return nil, ErrNotBillable
	}

	var clientID uuid.UUID
	switch {
	case req.ClientID != nil:
		if !containsID(a.ClientIDs, *req.ClientID) {
			return nil, apperr.FieldErrors(map[string]string{"client_id": "is not on the appointment"})
		}
		clientID = *req.ClientID
	case len(a.ClientIDs) == 1:
		clientID = a.ClientIDs[0]
	default:
		return nil, apperr.FieldErrors(map[string]string{"client_id": "is required for group appointments"})
	}

	cpt := req.CPTCode
	if cpt == "" && a.AppointmentTypeID != nil {
		t, err := s.appointments.GetAppointmentType(ctx, *a.AppointmentTypeID)
		if err != nil {
			return nil, err
		}
		cpt = t.CPTCode
	}

	sched := s.serviceDate(a)
	c := &Claim{
		ClientID:      clientID,
		ClinicianID:   a.ClinicianID,
		AppointmentID: &a.ID,
		PolicyID:      req.PolicyID,
		ServiceDate:   sched,
		CPTCode:       cpt,
		ICD10Codes:    req.ICD10Codes,
		Units:         req.Units,
		ChargeCents:   req.ChargeCents,
	}
	if err := s.CreateClaim(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// serviceDate is the appointment's calendar date in UTC.
func (s *Service) serviceDate(a *scheduling.Appointment) string {
	return a.StartTime.UTC().Format(dateLayout)
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func (s *Service) GetClaim(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return s.claims.GetByID(ctx, id)
}

// UpdateClaim edits the coding and charge of an unsent claim.
func (s *Service) UpdateClaim(ctx context.Context, c *Claim) error {
	existing, err := s.claims.GetByID(ctx, c.ID)
	if err != nil {
		return err
	}
	if !existing.Editable() {
		return ErrClaimLocked
	}
	updated := *existing
	updated.PolicyID = c.PolicyID
	updated.ServiceDate = c.ServiceDate
	updated.CPTCode = c.CPTCode
	updated.ICD10Codes = c.ICD10Codes
	updated.Units = c.Units
	updated.ChargeCents = c.ChargeCents
	if updated.Units == 0 {
		updated.Units = 1
	}
	if err := validate.Struct(&updated); err != nil {
		return err
	}
	if updated.Status == ClaimDraft && c.Status == ClaimReady {
		updated.Status = ClaimReady
	}
	if err := s.claims.Update(ctx, &updated); err != nil {
		return err
	}
	*c = updated
	return nil
}

func (s *Service) ListClaims(ctx context.Context, f ClaimFilter, limit, offset int) ([]*Claim, int, error) {
	if f.Status != "" {
		if err := validate.Var("status", f.Status, "oneof=draft ready submitted accepted rejected paid denied"); err != nil {
			return nil, 0, err
		}
	}
	return s.claims.List(ctx, f, limit, offset)
}

// SubmitClaim sends an unsent or rejected claim to the clearinghouse and
// records the outcome on the claim's sync fields.
func (s *Service) SubmitClaim(ctx context.Context, id uuid.UUID) (*Claim, error) {
	if err := s.clearinghouseReady(); err != nil {
		return nil, err
	}
	c, err := s.claims.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Editable() {
		return nil, ErrClaimLocked
	}
	submission, err := s.buildSubmission(ctx, c)
	if err != nil {
		return nil, err
	}

	result, callErr := s.ch.SubmitClaim(ctx, *submission)
	now := s.now().UTC()
	switch {
	case callErr == nil:
		c.Status = ClaimSubmitted
		c.ClearinghouseID = result.ClaimID
		c.SubmittedAt = &now
		c.synced(now)
	case errors.Is(callErr, clearinghouse.ErrRejected):
		c.Status = ClaimRejected
		c.failed(now, callErr)
	default:
		c.failed(now, callErr)
	}
	if err := s.claims.Update(ctx, c); err != nil {
		return nil, err
	}
	if callErr != nil {
		s.logger.Warn().Err(callErr).Str("claim_id", c.ID.String()).Msg("claim submission failed")
		return nil, syncFailure(callErr)
	}
	s.logger.Info().
		Str("claim_id", c.ID.String()).
		Str("clearinghouse_id", c.ClearinghouseID).
		Msg("claim submitted")
	return c, nil
}

func (s *Service) buildSubmission(ctx context.Context, c *Claim) (*clearinghouse.ClaimSubmission, error) {
	if c.PolicyID == nil {
		return nil, apperr.FieldErrors(map[string]string{"policy_id": "is required before submission"})
	}
	p, err := s.policies.GetByID(ctx, *c.PolicyID)
	if err != nil {
		return nil, err
	}
	cl, err := s.clients.GetClient(ctx, c.ClientID)
	if err != nil {
		return nil, err
	}
	provider, err := s.staff.GetStaff(ctx, c.ClinicianID)
	if err != nil {
		return nil, err
	}
	if provider.NPI == "" {
		return nil, apperr.FieldErrors(map[string]string{"clinician_id": "rendering provider has no NPI"})
	}
	place := placeOfService[scheduling.LocationOffice]
	if c.AppointmentID != nil {
		if a, err := s.appointments.GetAppointment(ctx, *c.AppointmentID); err == nil {
			if code, ok := placeOfService[a.Location]; ok {
				place = code
			}
		}
	}
	return &clearinghouse.ClaimSubmission{
		Reference:    c.ID.String(),
		PayerID:      p.PayerID,
		MemberID:     p.MemberID,
		GroupNumber:  p.GroupNumber,
		PatientFirst: cl.FirstName,
		PatientLast:  cl.LastName,
		PatientDOB:   cl.DateOfBirth,
		ProviderNPI:  provider.NPI,
		ServiceDate:  c.ServiceDate,
		PlaceCode:    place,
		Line: clearinghouse.ClaimLine{
			CPTCode:     c.CPTCode,
			Units:       c.Units,
			ChargeCents: c.ChargeCents,
			Diagnoses:   c.ICD10Codes,
		},
	}, nil
}

// PollRemittance fetches remittances posted since the last adjudication,
// archives the raw payload in object storage and marks matching claims paid
// or denied. It returns the number of claims updated.
func (s *Service) PollRemittance(ctx context.Context) (int, error) {
	if err := s.clearinghouseReady(); err != nil {
		return 0, err
	}
	since, err := s.claims.LastAdjudicatedAt(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now().UTC()
	if since.IsZero() {
		since = now.Add(-remittanceLookback)
	}

	items, raw, err := s.ch.FetchRemittances(ctx, since)
	if err != nil {
		return 0, syncFailure(err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	tenant := db.TenantFromContext(ctx)
	if tenant == "" {
		tenant = "default"
	}
	key := blobstore.Key(tenant, "remittances", fmt.Sprintf("%s-%s.xml", now.Format("20060102T150405Z"), uuid.NewString()[:8]))
	if _, err := s.store.Put(ctx, key, "application/xml", bytes.NewReader(raw)); err != nil {
		return 0, apperr.Unavailable("object storage unavailable", err)
	}

	updated := 0
	for _, r := range items {
		c, err := s.claims.GetByClearinghouseID(ctx, r.ClaimID)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				s.logger.Warn().Str("clearinghouse_id", r.ClaimID).Msg("remittance for unknown claim")
				continue
			}
			return updated, err
		}
		if c.Adjudicated() {
			continue
		}
		if r.Paid() {
			c.Status = ClaimPaid
			c.PaidCents = r.PaidCents
			c.synced(now)
		} else {
			c.Status = ClaimDenied
			c.PaidCents = 0
			c.SyncState = SyncState{SyncStatus: SyncSynced, SyncError: r.DenialReason, LastSyncedAt: &now}
		}
		c.AdjudicatedAt = &now
		c.RemittanceKey = key
		if err := s.claims.Update(ctx, c); err != nil {
			return updated, err
		}
		updated++
		s.logger.Info().
			Str("claim_id", c.ID.String()).
			Str("status", c.Status).
			Int64("paid_cents", c.PaidCents).
			Msg("claim adjudicated")
	}
	return updated, nil
}
