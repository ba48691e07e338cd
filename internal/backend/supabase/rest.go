package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/templeman/internal/model"
)

const (
	profilesTable     = "profiles"
	applicationsTable = "membership_applications"
)

// profileRow はprofilesテーブルの行。
type profileRow struct {
	ID               string  `json:"id"`
	FullName         string  `json:"full_name"`
	Email            string  `json:"email"`
	Phone            string  `json:"phone"`
	DateOfBirth      string  `json:"date_of_birth"`
	Address          string  `json:"address"`
	City             string  `json:"city"`
	State            string  `json:"state"`
	Pincode          string  `json:"pincode"`
	EmergencyContact string  `json:"emergency_contact"`
	EmergencyPhone   string  `json:"emergency_phone"`
	AadharNumber     string  `json:"aadhar_number"`
	AadharCardURL    *string `json:"aadhar_card_url"`
}

func newProfileRow(p *model.Profile) profileRow {
	row := profileRow{
		ID:               p.ID,
		FullName:         p.FullName,
		Email:            p.Email,
		Phone:            p.Phone,
		DateOfBirth:      p.DateOfBirth,
		Address:          p.Address,
		City:             p.City,
		State:            p.State,
		Pincode:          p.Pincode,
		EmergencyContact: p.EmergencyContact,
		EmergencyPhone:   p.EmergencyPhone,
		AadharNumber:     p.AadharNumber,
	}
	if p.AadharCardURL != "" {
		u := p.AadharCardURL
		row.AadharCardURL = &u
	}
	return row
}

func (r *profileRow) profile() *model.Profile {
	p := &model.Profile{
		ID:               r.ID,
		FullName:         r.FullName,
		Email:            r.Email,
		Phone:            r.Phone,
		DateOfBirth:      r.DateOfBirth,
		Address:          r.Address,
		City:             r.City,
		State:            r.State,
		Pincode:          r.Pincode,
		EmergencyContact: r.EmergencyContact,
		EmergencyPhone:   r.EmergencyPhone,
		AadharNumber:     r.AadharNumber,
	}
	if r.AadharCardURL != nil {
		p.AadharCardURL = *r.AadharCardURL
	}
	return p
}

// applicationRow はmembership_applicationsテーブルの行。
// 挿入時はid・created_atを外部基盤に採番させるため省略する。
type applicationRow struct {
	ID               string    `json:"id,omitempty"`
	UserID           string    `json:"user_id"`
	MembershipType   string    `json:"membership_type"`
	Amount           int       `json:"amount"`
	PaymentReference string    `json:"payment_reference"`
	Status           string    `json:"status"`
	AdminNotes       *string   `json:"admin_notes,omitempty"`
	CreatedAt        time.Time `json:"created_at,omitzero"`
}

func (r *applicationRow) application() *model.Application {
	app := &model.Application{
		ID:               r.ID,
		UserID:           r.UserID,
		MembershipType:   r.MembershipType,
		Amount:           r.Amount,
		PaymentReference: r.PaymentReference,
		Status:           model.ApplicationStatus(r.Status),
		CreatedAt:        r.CreatedAt,
	}
	if r.AdminNotes != nil {
		app.AdminNotes = *r.AdminNotes
	}
	return app
}

// GetProfile は利用者のプロフィールを取得する。存在しない場合はnilを返す。
func (c *Client) GetProfile(ctx context.Context, accessToken, userID string) (*model.Profile, error) {
	var rows []profileRow
	if err := c.do(ctx, request{
		op:     "profiles.get",
		method: http.MethodGet,
		path:   "/rest/v1/" + profilesTable,
		query:  url.Values{"id": {"eq." + userID}, "select": {"*"}},
		token:  accessToken,
		out:    &rows,
	}); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].profile(), nil
}

// UpsertProfile はIDをキーにプロフィールを作成または置換する。
func (c *Client) UpsertProfile(ctx context.Context, accessToken string, p *model.Profile) (*model.Profile, error) {
	body, err := jsonBody(newProfileRow(p))
	if err != nil {
		return nil, err
	}

	var rows []profileRow
	if err := c.do(ctx, request{
		op:     "profiles.upsert",
		method: http.MethodPost,
		path:   "/rest/v1/" + profilesTable,
		query:  url.Values{"on_conflict": {"id"}},
		token:  accessToken,
		header: http.Header{"Prefer": {"resolution=merge-duplicates,return=representation"}},
		body:   body,
		out:    &rows,
	}); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("upsert returned no profile")
	}
	return rows[0].profile(), nil
}

// InsertApplication は申込を1件作成する。
func (c *Client) InsertApplication(ctx context.Context, accessToken string, app *model.Application) (*model.Application, error) {
	body, err := jsonBody(applicationRow{
		UserID:           app.UserID,
		MembershipType:   app.MembershipType,
		Amount:           app.Amount,
		PaymentReference: app.PaymentReference,
		Status:           string(app.Status),
	})
	if err != nil {
		return nil, err
	}

	var rows []applicationRow
	if err := c.do(ctx, request{
		op:     "applications.insert",
		method: http.MethodPost,
		path:   "/rest/v1/" + applicationsTable,
		token:  accessToken,
		header: http.Header{"Prefer": {"return=representation"}},
		body:   body,
		out:    &rows,
	}); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert returned no application")
	}
	return rows[0].application(), nil
}

// ListApplications は利用者の申込を作成日時の降順で返す。
func (c *Client) ListApplications(ctx context.Context, accessToken, userID string) ([]*model.Application, error) {
	var rows []applicationRow
	if err := c.do(ctx, request{
		op:     "applications.list",
		method: http.MethodGet,
		path:   "/rest/v1/" + applicationsTable,
		query: url.Values{
			"user_id": {"eq." + userID},
			"select":  {"*"},
			"order":   {"created_at.desc"},
		},
		token: accessToken,
		out:   &rows,
	}); err != nil {
		return nil, err
	}

	apps := make([]*model.Application, 0, len(rows))
	for i := range rows {
		apps = append(apps, rows[i].application())
	}
	return apps, nil
}
