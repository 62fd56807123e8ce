package validation

import (
	"strings"
	"testing"

	"github.com/racedesk/apiserver/types"
	"github.com/stretchr/testify/require"
)

func paths(err *Error) []string {
	out := make([]string, 0, len(err.Fields))
	for _, f := range err.Fields {
		out = append(out, f.Path)
	}
	return out
}

func TestStructCreateMessage(t *testing.T) {
	t.Run("should accept a valid command", func(t *testing.T) {
		req := require.New(t)
		err := Struct(types.CreateMessageCommand{
			Content:      "Box this lap",
			SenderID:     "5b7c8a52-0c3e-4a44-9f59-6d1f1a0c0b11",
			RecipientIDs: []string{"9a3a0a8e-7a55-4d77-8f0c-2f1b5b9e7e21"},
		})
		req.NoError(err)
	})

	t.Run("should report every failing field", func(t *testing.T) {
		req := require.New(t)
		err := Struct(types.CreateMessageCommand{
			SenderID:     "nope",
			RecipientIDs: []string{},
		})

		var verr *Error
		req.ErrorAs(err, &verr)
		req.ElementsMatch([]string{"content", "sender_id", "recipient_ids"}, paths(verr))
	})

	t.Run("should point at the bad recipient index", func(t *testing.T) {
		req := require.New(t)
		err := Struct(types.CreateMessageCommand{
			Content:      "hi",
			SenderID:     "5b7c8a52-0c3e-4a44-9f59-6d1f1a0c0b11",
			RecipientIDs: []string{"9a3a0a8e-7a55-4d77-8f0c-2f1b5b9e7e21", "x"},
		})

		var verr *Error
		req.ErrorAs(err, &verr)
		req.Equal([]string{"recipient_ids[1]"}, paths(verr))
		req.Equal("must be a UUID", verr.Fields[0].Reason)
	})
}

func TestStructCreateUser(t *testing.T) {
	email := "pilot@example.com"
	bad := "not-an-email"

	cases := []struct {
		name  string
		cmd   types.CreateUserCommand
		paths []string
	}{
		{name: "valid pilot", cmd: types.CreateUserCommand{Nick: "Arek", Roles: types.RolePilot}},
		{name: "valid director with email", cmd: types.CreateUserCommand{Nick: "Dir", Email: &email, Roles: types.RoleRaceDirector}},
		{name: "missing nick", cmd: types.CreateUserCommand{Roles: types.RolePilot}, paths: []string{"nick"}},
		{name: "long nick", cmd: types.CreateUserCommand{Nick: strings.Repeat("a", 51), Roles: types.RolePilot}, paths: []string{"nick"}},
		{name: "bad email", cmd: types.CreateUserCommand{Nick: "A", Email: &bad, Roles: types.RolePilot}, paths: []string{"email"}},
		{name: "unknown role", cmd: types.CreateUserCommand{Nick: "A", Roles: "admin"}, paths: []string{"roles"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := require.New(t)
			err := Struct(tc.cmd)
			if tc.paths == nil {
				req.NoError(err)
				return
			}
			var verr *Error
			req.ErrorAs(err, &verr)
			req.Equal(tc.paths, paths(verr))
		})
	}
}

func TestInvalid(t *testing.T) {
	req := require.New(t)
	err := Invalid("page", "must be a positive integer")
	req.Equal("validation failed: page: must be a positive integer", err.Error())
}
