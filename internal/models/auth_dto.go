package models

type IssueSessionRequest struct {
	Subject    string `json:"subject"`
	AuthMethod string `json:"amr,omitempty"`
}

type AccessTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type LogoutAllRequest struct {
	Subject string `json:"subject"`
}

type ErrorResponse struct {
	Reason string `json:"reason"`
}
