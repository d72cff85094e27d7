package bot

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	domainerrors "bookshelf/internal/errors"
)

// initDataMaxAge is how long a Mini App sign-in stays valid
const initDataMaxAge = 24 * time.Hour

// InitDataVerifier signs Mini App users in from the initData Telegram passes
// to the web app.
type InitDataVerifier struct {
	token   string
	allowed func(int64) bool
	now     func() time.Time
}

// NewInitDataVerifier checks initData signed for the bot with token. Only
// users accepted by allowed may sign in.
func NewInitDataVerifier(token string, allowed func(int64) bool) *InitDataVerifier {
	return &InitDataVerifier{token: token, allowed: allowed, now: time.Now}
}

// Verify validates initData and returns the library owner id of its user
func (v *InitDataVerifier) Verify(initData string) (string, error) {
	telegramID, err := v.verify(initData)
	if err != nil {
		return "", domainerrors.Unauthorized("invalid Telegram sign-in").WithCause(err)
	}
	return UserUID(telegramID), nil
}

func (v *InitDataVerifier) verify(initData string) (int64, error) {
	if initData == "" {
		return 0, fmt.Errorf("missing initData")
	}

	values, err := url.ParseQuery(initData)
	if err != nil {
		return 0, fmt.Errorf("invalid initData format: %w", err)
	}

	hash := values.Get("hash")
	if hash == "" {
		return 0, fmt.Errorf("missing hash in initData")
	}
	values.Del("hash")

	if !hmac.Equal([]byte(signInitData(v.token, values)), []byte(hash)) {
		return 0, fmt.Errorf("invalid hash")
	}

	authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("missing auth_date")
	}
	if v.now().Sub(time.Unix(authDate, 0)) > initDataMaxAge {
		return 0, fmt.Errorf("initData is too old")
	}

	userStr := values.Get("user")
	if userStr == "" {
		return 0, fmt.Errorf("missing user data")
	}
	var userData struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal([]byte(userStr), &userData); err != nil {
		return 0, fmt.Errorf("invalid user data: %w", err)
	}

	if !v.allowed(userData.ID) {
		return 0, fmt.Errorf("user not allowed")
	}
	return userData.ID, nil
}

// signInitData computes the hex hash Telegram attaches to initData: an
// HMAC-SHA256 of the sorted key=value lines, keyed by HMAC("WebAppData", token).
func signInitData(token string, values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var dataCheckString strings.Builder
	for i, k := range keys {
		if i > 0 {
			dataCheckString.WriteByte('\n')
		}
		dataCheckString.WriteString(k)
		dataCheckString.WriteByte('=')
		dataCheckString.WriteString(values.Get(k))
	}

	secretKey := hmac.New(sha256.New, []byte("WebAppData"))
	secretKey.Write([]byte(token))

	h := hmac.New(sha256.New, secretKey.Sum(nil))
	h.Write([]byte(dataCheckString.String()))
	return hex.EncodeToString(h.Sum(nil))
}
