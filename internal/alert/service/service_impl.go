package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/smallbiznis/railzway-alerts/internal/alert/domain"
	"github.com/smallbiznis/railzway-alerts/internal/clock"
	subscriptiondomain "github.com/smallbiznis/railzway-alerts/internal/subscription/domain"
	walletdomain "github.com/smallbiznis/railzway-alerts/internal/wallet/domain"
	"github.com/smallbiznis/railzway-alerts/pkg/db"
	"github.com/smallbiznis/railzway-alerts/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      alertdomain.Repository
	SubSvc    subscriptiondomain.Service
	WalletSvc walletdomain.Service
	Clock     clock.Clock `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	repo      alertdomain.Repository
	subSvc    subscriptiondomain.Service
	walletSvc walletdomain.Service
	clock     clock.Clock
}

func New(p Params) alertdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("alert.service"),
		genID:     p.GenID,
		repo:      p.Repo,
		subSvc:    p.SubSvc,
		walletSvc: p.WalletSvc,
		clock:     clk,
	}
}

func (s *Service) Create(ctx context.Context, req alertdomain.CreateRequest) (*alertdomain.Response, error) {
	orgID, err := s.parseOrganizationID(req.OrganizationID)
	if err != nil {
		return nil, err
	}

	spec, err := alertdomain.Validate(req)
	if err != nil {
		return nil, err
	}
	spec.OrgID = orgID

	if err := s.ensureScope(ctx, spec); err != nil {
		return nil, err
	}

	alert := s.buildAlert(spec)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.findByScopeCode(ctx, tx, spec)
		if err != nil {
			return err
		}
		if existing != nil {
			return codeTaken(spec.Code)
		}

		if err := s.repo.InsertAlert(ctx, tx, alert); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return codeTaken(spec.Code)
			}
			return err
		}
		if err := s.repo.InsertThresholds(ctx, tx, alert.Thresholds); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return alertdomain.NewValidationError("thresholds", "duplicate", "threshold codes must be unique within an alert")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("alert created",
		zap.String("org_id", orgID.String()),
		zap.String("alert_id", alert.ID.String()),
		zap.String("alert_type", string(alert.Kind)),
		zap.Int("thresholds", len(alert.Thresholds)),
	)
	return toResponse(alert), nil
}

// CreateBatch never fails as a whole because of one bad item; only an invalid
// organization aborts the batch.
func (s *Service) CreateBatch(ctx context.Context, organizationID string, reqs []alertdomain.CreateRequest) (*alertdomain.BatchResult, error) {
	if _, err := s.parseOrganizationID(organizationID); err != nil {
		return nil, err
	}

	result := &alertdomain.BatchResult{
		Created: make([]alertdomain.Response, 0, len(reqs)),
		Errors:  map[int]error{},
	}
	for i, req := range reqs {
		req.OrganizationID = organizationID
		resp, err := s.Create(ctx, req)
		if err != nil {
			if !alertdomain.IsValidationError(err) && !alertdomain.IsNotFound(err) {
				s.log.Warn("batch alert creation failed",
					zap.String("org_id", organizationID),
					zap.Int("index", i),
					zap.Error(err),
				)
			}
			result.Errors[i] = err
			continue
		}
		result.Created = append(result.Created, *resp)
	}
	return result, nil
}

func (s *Service) DestroyAll(ctx context.Context, organizationID, subscriptionExternalID string) (int, error) {
	orgID, err := s.parseOrganizationID(organizationID)
	if err != nil {
		return 0, err
	}
	externalID := strings.TrimSpace(subscriptionExternalID)
	if externalID == "" {
		return 0, alertdomain.ErrInvalidSubscription
	}

	var deleted int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		deleted, err = s.repo.SoftDeleteBySubscription(ctx, tx, orgID, externalID, s.clock.Now())
		return err
	})
	if err != nil {
		return 0, err
	}

	s.log.Info("alerts destroyed",
		zap.String("org_id", orgID.String()),
		zap.String("subscription_external_id", externalID),
		zap.Int64("count", deleted),
	)
	return int(deleted), nil
}

func (s *Service) List(ctx context.Context, organizationID, subscriptionExternalID string) ([]alertdomain.Response, error) {
	orgID, err := s.parseOrganizationID(organizationID)
	if err != nil {
		return nil, err
	}
	externalID := strings.TrimSpace(subscriptionExternalID)
	if externalID == "" {
		return nil, alertdomain.ErrInvalidSubscription
	}

	alerts, err := s.repo.ListBySubscription(ctx, s.db, orgID, externalID)
	if err != nil {
		return nil, err
	}
	return s.withThresholds(ctx, alerts)
}

func (s *Service) ListWalletAlerts(ctx context.Context, organizationID, walletID string) ([]alertdomain.Response, error) {
	orgID, err := s.parseOrganizationID(organizationID)
	if err != nil {
		return nil, err
	}
	id, err := alertdomain.ParseID(walletID)
	if err != nil {
		return nil, alertdomain.ErrInvalidWallet
	}

	alerts, err := s.repo.ListByWallet(ctx, s.db, orgID, id)
	if err != nil {
		return nil, err
	}
	return s.withThresholds(ctx, alerts)
}

func (s *Service) GetByCode(ctx context.Context, organizationID, subscriptionExternalID, code string) (*alertdomain.Response, error) {
	orgID, err := s.parseOrganizationID(organizationID)
	if err != nil {
		return nil, err
	}
	externalID := strings.TrimSpace(subscriptionExternalID)
	if externalID == "" {
		return nil, alertdomain.ErrInvalidSubscription
	}

	alert, err := s.repo.FindByCode(ctx, s.db, orgID, externalID, strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, alertdomain.ErrNotFound
	}

	resp, err := s.withThresholds(ctx, []alertdomain.Alert{*alert})
	if err != nil {
		return nil, err
	}
	return &resp[0], nil
}

func (s *Service) ListTriggered(ctx context.Context, organizationID, alertID string, page pagination.Pagination) (*alertdomain.TriggeredPage, error) {
	orgID, err := s.parseOrganizationID(organizationID)
	if err != nil {
		return nil, err
	}
	id, err := alertdomain.ParseID(alertID)
	if err != nil {
		return nil, err
	}

	alert, err := s.repo.FindByID(ctx, s.db, orgID, id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, alertdomain.ErrNotFound
	}

	page = page.Normalize()
	var beforeID snowflake.ID
	if token := strings.TrimSpace(page.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return nil, alertdomain.NewValidationError("page_token", "invalid", "page_token is malformed")
		}
		if beforeID, err = alertdomain.ParseID(cursor.ID); err != nil {
			return nil, alertdomain.NewValidationError("page_token", "invalid", "page_token is malformed")
		}
	}

	rows, err := s.repo.ListTriggered(ctx, s.db, orgID, id, beforeID, page.PageSize+1)
	if err != nil {
		return nil, err
	}
	rows, info := pagination.BuildCursorPageInfo(rows, page.PageSize, func(t alertdomain.TriggeredAlert) string {
		return t.ID.String()
	})

	items := make([]alertdomain.TriggeredResponse, 0, len(rows))
	for i := range rows {
		items = append(items, toTriggeredResponse(&rows[i]))
	}
	return &alertdomain.TriggeredPage{Items: items, PageInfo: info}, nil
}

func (s *Service) ensureScope(ctx context.Context, spec *alertdomain.AlertSpec) error {
	if spec.Kind.IsWallet() {
		_, err := s.walletSvc.Get(ctx, spec.OrgID, spec.WalletID)
		if errors.Is(err, walletdomain.ErrNotFound) {
			return fmt.Errorf("%w: %s", alertdomain.ErrWalletMissing, spec.WalletID)
		}
		return err
	}

	_, err := s.subSvc.GetByExternalID(ctx, spec.OrgID, spec.SubscriptionExternalID)
	if errors.Is(err, subscriptiondomain.ErrNotFound) {
		return fmt.Errorf("%w: %s", alertdomain.ErrSubscriptionMissing, spec.SubscriptionExternalID)
	}
	return err
}

func (s *Service) findByScopeCode(ctx context.Context, tx *gorm.DB, spec *alertdomain.AlertSpec) (*alertdomain.Alert, error) {
	if spec.Kind.IsWallet() {
		return s.repo.FindWalletAlertByCode(ctx, tx, spec.OrgID, spec.WalletID, spec.Code)
	}
	return s.repo.FindByCode(ctx, tx, spec.OrgID, spec.SubscriptionExternalID, spec.Code)
}

func (s *Service) buildAlert(spec *alertdomain.AlertSpec) *alertdomain.Alert {
	now := s.clock.Now().Truncate(time.Microsecond)
	alert := &alertdomain.Alert{
		ID:        s.genID.Generate(),
		OrgID:     spec.OrgID,
		Kind:      spec.Kind,
		Name:      spec.Name,
		Code:      spec.Code,
		Direction: spec.Kind.Direction(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if spec.Kind.IsWallet() {
		walletID := spec.WalletID
		alert.WalletID = &walletID
	} else {
		externalID := spec.SubscriptionExternalID
		alert.SubscriptionExternalID = &externalID
	}
	if spec.BillableMetricID != 0 {
		metricID := spec.BillableMetricID
		alert.BillableMetricID = &metricID
	}

	alert.Thresholds = make([]alertdomain.Threshold, 0, len(spec.Thresholds))
	for i, th := range spec.Thresholds {
		alert.Thresholds = append(alert.Thresholds, alertdomain.Threshold{
			ID:        s.genID.Generate(),
			OrgID:     spec.OrgID,
			AlertID:   alert.ID,
			Position:  i,
			Code:      th.Code,
			Value:     th.Value,
			Recurring: th.Recurring,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return alert
}

func (s *Service) withThresholds(ctx context.Context, alerts []alertdomain.Alert) ([]alertdomain.Response, error) {
	ids := make([]snowflake.ID, 0, len(alerts))
	for _, a := range alerts {
		ids = append(ids, a.ID)
	}
	thresholds, err := s.repo.ListThresholds(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}

	byAlert := make(map[snowflake.ID][]alertdomain.Threshold, len(alerts))
	for _, th := range thresholds {
		byAlert[th.AlertID] = append(byAlert[th.AlertID], th)
	}

	resp := make([]alertdomain.Response, 0, len(alerts))
	for i := range alerts {
		alerts[i].Thresholds = byAlert[alerts[i].ID]
		resp = append(resp, *toResponse(&alerts[i]))
	}
	return resp, nil
}

func (s *Service) parseOrganizationID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id <= 0 {
		return 0, alertdomain.ErrInvalidOrganization
	}
	return id, nil
}

func codeTaken(code string) error {
	return alertdomain.NewValidationError("code", "taken", fmt.Sprintf("code %q is already used", code))
}

func toResponse(a *alertdomain.Alert) *alertdomain.Response {
	resp := &alertdomain.Response{
		ID:              a.ID.String(),
		OrganizationID:  a.OrgID.String(),
		AlertType:       string(a.Kind),
		Name:            a.Name,
		Code:            a.Code,
		Direction:       string(a.Direction),
		PreviousValue:   nullDecimalString(a.PreviousValue.Valid, a.PreviousValue.Decimal.String()),
		LastProcessedAt: a.LastProcessedAt,
		Thresholds:      make([]alertdomain.ThresholdResponse, 0, len(a.Thresholds)),
		CreatedAt:       a.CreatedAt,
	}
	if a.SubscriptionExternalID != nil {
		resp.SubscriptionExternalID = *a.SubscriptionExternalID
	}
	if a.WalletID != nil {
		resp.WalletID = a.WalletID.String()
	}
	if a.BillableMetricID != nil {
		resp.BillableMetricID = a.BillableMetricID.String()
	}
	for _, th := range a.Thresholds {
		resp.Thresholds = append(resp.Thresholds, alertdomain.ThresholdResponse{
			Code:      th.Code,
			Value:     th.Value.String(),
			Recurring: th.Recurring,
			FiredAt:   th.FiredAt,
		})
	}
	return resp
}

func toTriggeredResponse(t *alertdomain.TriggeredAlert) alertdomain.TriggeredResponse {
	resp := alertdomain.TriggeredResponse{
		ID:                t.ID.String(),
		AlertID:           t.AlertID.String(),
		CurrentValue:      t.CurrentValue.String(),
		PreviousValue:     nullDecimalString(t.PreviousValue.Valid, t.PreviousValue.Decimal.String()),
		CrossedThresholds: t.Crossed(),
		TriggeredAt:       t.TriggeredAt,
	}
	if t.SubscriptionID != nil {
		resp.SubscriptionID = t.SubscriptionID.String()
	}
	if t.SubscriptionExternalID != nil {
		resp.SubscriptionExternalID = *t.SubscriptionExternalID
	}
	if t.WalletID != nil {
		resp.WalletID = t.WalletID.String()
	}
	return resp
}

func nullDecimalString(valid bool, value string) *string {
	if !valid {
		return nil
	}
	return &value
}
