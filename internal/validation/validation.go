// Package validation はフォーム入力の検証ルールを宣言的に定義する。
//
// 各検証関数は入力を受け取り、正規化済みの値を返すか、
// 最初に違反したルールのメッセージのみを持つ検証エラーを返す。
// ルールの評価順は構造体のフィールド順・タグ順と一致する。
// 検証は外部基盤への通信より前に同期的に実行される。
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/templeman/internal/model"
)

var (
	// intlPhonePattern は国際形式の電話番号（+は任意、先頭1-9）。
	intlPhonePattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)
	// mobilePattern はインドの携帯電話番号（6-9で始まる10桁）。
	mobilePattern = regexp.MustCompile(`^[6-9]\d{9}$`)
	// aadharPattern はAadhaar番号（12桁）。
	aadharPattern = regexp.MustCompile(`^\d{12}$`)
	// pincodePattern は郵便番号（6桁）。
	pincodePattern = regexp.MustCompile(`^\d{6}$`)
	// otpPattern はSMS認証コード（6桁）。
	otpPattern = regexp.MustCompile(`^\d{6}$`)

	upperPattern = regexp.MustCompile(`[A-Z]`)
	lowerPattern = regexp.MustCompile(`[a-z]`)
	digitPattern = regexp.MustCompile(`[0-9]`)
)

var validate = newValidator()

// newValidator はカスタムルールを登録したvalidatorを生成する。
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	rules := map[string]*regexp.Regexp{
		"intl_phone": intlPhonePattern,
		"mobile":     mobilePattern,
		"aadhar":     aadharPattern,
		"pincode":    pincodePattern,
		"otp":        otpPattern,
		"has_upper":  upperPattern,
		"has_lower":  lowerPattern,
		"has_digit":  digitPattern,
	}
	for tag, pattern := range rules {
		p := pattern
		if err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return p.MatchString(fl.Field().String())
		}); err != nil {
			panic(fmt.Sprintf("failed to register validation %q: %v", tag, err))
		}
	}
	return v
}

// LoginInput はログインフォームの入力。
type LoginInput struct {
	Email    string `json:"email" validate:"email,max=255"`
	Password string `json:"password" validate:"required"`
}

var loginMessages = map[string]string{
	"Email.email":       "Invalid email address",
	"Email.max":         "Email too long",
	"Password.required": "Password is required",
}

// Login はログイン入力を検証する。
// メールアドレスは検証後に前後の空白を除去して返す。
func Login(in LoginInput) (LoginInput, error) {
	if err := check(in, loginMessages); err != nil {
		return LoginInput{}, err
	}
	in.Email = strings.TrimSpace(in.Email)
	return in, nil
}

// RegistrationInput は会員登録フォームの入力。
type RegistrationInput struct {
	Email           string `json:"email" validate:"email,max=255"`
	Phone           string `json:"phone" validate:"intl_phone"`
	Password        string `json:"password" validate:"min=8,max=72,has_upper,has_lower,has_digit"`
	ConfirmPassword string `json:"confirmPassword" validate:"eqfield=Password"`
}

var registrationMessages = map[string]string{
	"Email.email":             "Invalid email address",
	"Email.max":               "Email too long",
	"Phone.intl_phone":        "Invalid phone number format (use international format with +)",
	"Password.min":            "Password must be at least 8 characters",
	"Password.max":            "Password must be less than 72 characters",
	"Password.has_upper":      "Password must contain at least one uppercase letter",
	"Password.has_lower":      "Password must contain at least one lowercase letter",
	"Password.has_digit":      "Password must contain at least one number",
	"ConfirmPassword.eqfield": "Passwords don't match",
}

// Registration は会員登録入力を検証する。
// 確認用パスワードの不一致は他のルールより後に評価される。
func Registration(in RegistrationInput) (RegistrationInput, error) {
	if err := check(in, registrationMessages); err != nil {
		return RegistrationInput{}, err
	}
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	return in, nil
}

// ProfileInput はプロフィール作成フォームの入力。
// フィールド順が検証順となる。
type ProfileInput struct {
	FullName         string `json:"fullName" validate:"min=2,max=100"`
	Email            string `json:"email" validate:"email,max=255"`
	Phone            string `json:"phone" validate:"mobile"`
	AadharNumber     string `json:"aadharNumber" validate:"aadhar"`
	DateOfBirth      string `json:"dateOfBirth" validate:"required"`
	Address          string `json:"address" validate:"min=5,max=200"`
	City             string `json:"city" validate:"min=2,max=100"`
	State            string `json:"state" validate:"min=2,max=100"`
	Pincode          string `json:"pincode" validate:"pincode"`
	EmergencyContact string `json:"emergencyContact" validate:"min=2,max=100"`
	EmergencyPhone   string `json:"emergencyPhone" validate:"mobile"`
}

var profileMessages = map[string]string{
	"FullName.min":          "Name must be at least 2 characters",
	"FullName.max":          "Name must be less than 100 characters",
	"Email.email":           "Invalid email address",
	"Email.max":             "Email too long",
	"Phone.mobile":          "Invalid phone number. Must be a valid Indian mobile number (10 digits starting with 6-9)",
	"AadharNumber.aadhar":   "Aadhar number must be exactly 12 digits",
	"DateOfBirth.required":  "Date of birth is required",
	"Address.min":           "Address must be at least 5 characters",
	"Address.max":           "Address must be less than 200 characters",
	"City.min":              "City must be at least 2 characters",
	"City.max":              "City too long",
	"State.min":             "State must be at least 2 characters",
	"State.max":             "State too long",
	"Pincode.pincode":       "Pincode must be exactly 6 digits",
	"EmergencyContact.min":  "Contact name must be at least 2 characters",
	"EmergencyContact.max":  "Contact name too long",
	"EmergencyPhone.mobile": "Invalid emergency phone number",
}

// Profile はプロフィール入力を検証する。
// 氏名・住所・市・州・緊急連絡先氏名は前後の空白を除去してから長さを検証する。
func Profile(in ProfileInput) (ProfileInput, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Address = strings.TrimSpace(in.Address)
	in.City = strings.TrimSpace(in.City)
	in.State = strings.TrimSpace(in.State)
	in.EmergencyContact = strings.TrimSpace(in.EmergencyContact)

	if err := check(in, profileMessages); err != nil {
		return ProfileInput{}, err
	}
	return in, nil
}

// ToProfile は検証済み入力をIdentity IDに紐づくProfileに変換する。
func (in ProfileInput) ToProfile(identityID string) model.Profile {
	return model.Profile{
		ID:               identityID,
		FullName:         in.FullName,
		Email:            in.Email,
		Phone:            in.Phone,
		DateOfBirth:      in.DateOfBirth,
		Address:          in.Address,
		City:             in.City,
		State:            in.State,
		Pincode:          in.Pincode,
		EmergencyContact: in.EmergencyContact,
		EmergencyPhone:   in.EmergencyPhone,
		AadharNumber:     in.AadharNumber,
	}
}

type resetInput struct {
	Email string `validate:"email"`
}

// ResetEmail はパスワード再設定メールの宛先を検証する。
func ResetEmail(email string) (string, error) {
	if err := check(resetInput{Email: email}, map[string]string{
		"Email.email": "Please enter a valid email address.",
	}); err != nil {
		return "", err
	}
	return strings.TrimSpace(email), nil
}

type otpInput struct {
	Code string `validate:"otp"`
}

// OTP はSMS認証コードを検証する。
func OTP(code string) (string, error) {
	code = strings.TrimSpace(code)
	if err := check(otpInput{Code: code}, map[string]string{
		"Code.otp": "Please enter a 6-digit code.",
	}); err != nil {
		return "", err
	}
	return code, nil
}

// PaymentReference は支払参照番号を検証する。
// 空でないことのみを要求し、形式や一意性は検証しない。
func PaymentReference(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", model.NewValidationError("Payment reference is required")
	}
	return ref, nil
}

// DonationInput は寄付フォームの入力。
type DonationInput struct {
	Name   string `json:"name" validate:"max=100"`
	Amount int    `json:"amount" validate:"gt=0"`
}

var donationMessages = map[string]string{
	"Name.max":  "Name too long",
	"Amount.gt": "Please enter a valid amount",
}

// Donation は寄付入力を検証する。
func Donation(in DonationInput) (DonationInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := check(in, donationMessages); err != nil {
		return DonationInput{}, err
	}
	return in, nil
}

// check は構造体を検証し、最初の違反ルールを検証エラーに変換する。
func check(in any, messages map[string]string) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("validation failed: %w", err)
	}

	first := verrs[0]
	if msg, ok := messages[first.Field()+"."+first.Tag()]; ok {
		return model.NewValidationError(msg)
	}
	return model.NewValidationError(fmt.Sprintf("%s is invalid", first.Field()))
}
