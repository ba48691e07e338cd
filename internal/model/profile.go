package model

// Profile は会員の個人情報を表す。Identityごとに最大1件。
// JSONタグはBFF内のclient_state（userProfileエントリ）への保存形式でもある。
type Profile struct {
	ID               string `json:"id"`
	FullName         string `json:"fullName"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	DateOfBirth      string `json:"dateOfBirth"`
	Address          string `json:"address"`
	City             string `json:"city"`
	State            string `json:"state"`
	Pincode          string `json:"pincode"`
	EmergencyContact string `json:"emergencyContact"`
	EmergencyPhone   string `json:"emergencyPhone"`
	AadharNumber     string `json:"aadharNumber"`
	// AadharCardURL はアップロード済み本人確認書類の公開URL。未アップロードなら空。
	AadharCardURL string `json:"aadharCardUrl,omitempty"`
}

// HasDocument は本人確認書類がアップロード済みかどうかを返す。
func (p *Profile) HasDocument() bool {
	return p.AadharCardURL != ""
}
