package netconf

import (
	"encoding/xml"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelloMsgUnmarshal(t *testing.T) {
	const serverHello = `<hello xmlns="urn:ietf:params:xml:ns:netconf:base:1.0"><capabilities><capability>urn:ietf:params:netconf:base:1.0</capability><capability>urn:ietf:params:netconf:base:1.1</capability></capabilities><session-id>42</session-id></hello>`

	var msg HelloMsg
	require.NoError(t, xml.Unmarshal([]byte(serverHello), &msg))

	assert.Equal(t, uint64(42), msg.SessionID)
	assert.Equal(t, []string{
		"urn:ietf:params:netconf:base:1.0",
		"urn:ietf:params:netconf:base:1.1",
	}, msg.Capabilities)
}

func TestRPCErrorUnmarshal(t *testing.T) {
	tt := []struct {
		name  string
		input string
		want  RPCError
	}{
		{
			name: "withErrorInfo",
			input: `<rpc-error>
				<error-type>protocol</error-type>
				<error-tag>missing-attribute</error-tag>
				<error-severity>error</error-severity>
				<error-message xml:lang="en">missing x</error-message>
				<error-info>
					<bad-attribute>x</bad-attribute>
					<bad-element>y</bad-element>
				</error-info>
			</rpc-error>`,
			want: RPCError{
				Type:     ErrTypeProtocol,
				Tag:      ErrMissingAttribute,
				Severity: SevError,
				Message:  ErrorMessage{Lang: "en", Value: "missing x"},
				Info: &ErrorInfo{
					BadAttribute: "x",
					BadElement:   "y",
				},
			},
		},
		{
			name: "lockDenied",
			input: `<rpc-error>
				<error-type>protocol</error-type>
				<error-tag>lock-denied</error-tag>
				<error-severity>error</error-severity>
				<error-message xml:lang="en">Lock failed, lock is already held</error-message>
				<error-info>
					<session-id>22</session-id>
				</error-info>
			</rpc-error>`,
			want: RPCError{
				Type:     ErrTypeProtocol,
				Tag:      ErrLockDenied,
				Severity: SevError,
				Message:  ErrorMessage{Lang: "en", Value: "Lock failed, lock is already held"},
				Info:     &ErrorInfo{SessionID: "22"},
			},
		},
		{
			name: "warning",
			input: `<rpc-error>
				<error-type>application</error-type>
				<error-tag>operation-failed</error-tag>
				<error-severity>warning</error-severity>
			</rpc-error>`,
			want: RPCError{
				Type:     ErrTypeApp,
				Tag:      ErrOperationFailed,
				Severity: SevWarning,
			},
		},
		{
			name: "vendorSpecificValues",
			input: `<rpc-error>
				<error-type>mystery</error-type>
				<error-tag>vendor-oops</error-tag>
				<error-severity>error</error-severity>
			</rpc-error>`,
			// Unknown type/tag values pass through as-is; they are not
			// rejected, just not any of the RFC6241 constants.
			want: RPCError{
				Type:     ErrType("mystery"),
				Tag:      ErrTag("vendor-oops"),
				Severity: SevError,
			},
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			var got RPCError
			require.NoError(t, xml.Unmarshal([]byte(tc.input), &got))

			assert.Equal(t, tc.want.Type, got.Type)
			assert.Equal(t, tc.want.Tag, got.Tag)
			assert.Equal(t, tc.want.Severity, got.Severity)
			assert.Equal(t, tc.want.Message, got.Message)
			if tc.want.Info == nil {
				assert.Nil(t, got.Info)
			} else {
				require.NotNil(t, got.Info)
				assert.Equal(t, tc.want.Info.BadAttribute, got.Info.BadAttribute)
				assert.Equal(t, tc.want.Info.BadElement, got.Info.BadElement)
				assert.Equal(t, tc.want.Info.SessionID, got.Info.SessionID)
			}
		})
	}
}

// TestRPCErrorRoundTrip builds an error from fields, serializes it, and
// parses it back: the two must agree on every typed field.
func TestRPCErrorRoundTrip(t *testing.T) {
	orig := RPCError{
		Type:     ErrTypeRPC,
		Tag:      ErrBadElement,
		Severity: SevError,
		Path:     "/rpc/edit-config/config",
		Message:  ErrorMessage{Lang: "en", Value: "bad element"},
		Info: &ErrorInfo{
			BadElement: "interface",
		},
	}

	raw, err := xml.Marshal(&orig)
	require.NoError(t, err)

	var got RPCError
	require.NoError(t, xml.Unmarshal(raw, &got))

	assert.Equal(t, orig.Type, got.Type)
	assert.Equal(t, orig.Tag, got.Tag)
	assert.Equal(t, orig.Severity, got.Severity)
	assert.Equal(t, orig.Path, got.Path)
	assert.Equal(t, orig.Message, got.Message)
	require.NotNil(t, got.Info)
	assert.Equal(t, orig.Info.BadElement, got.Info.BadElement)
}

func TestRPCReplyUnmarshal(t *testing.T) {
	const reply = `<rpc-reply message-id="101" xmlns="urn:ietf:params:xml:ns:netconf:base:1.0">
		<rpc-error>
			<error-type>application</error-type>
			<error-tag>invalid-value</error-tag>
			<error-severity>error</error-severity>
		</rpc-error>
		<rpc-error>
			<error-type>application</error-type>
			<error-tag>operation-failed</error-tag>
			<error-severity>warning</error-severity>
		</rpc-error>
	</rpc-reply>`

	var got RPCReply
	require.NoError(t, xml.Unmarshal([]byte(reply), &got))

	assert.Equal(t, "101", got.MessageID)
	require.Len(t, got.RPCErrors, 2)

	// Filter drops everything not at the requested severity.
	errs := got.RPCErrors.Filter(SevError)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrInvalidValue, errs[0].Tag)

	warnings := got.RPCErrors.Filter(SevWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, ErrOperationFailed, warnings[0].Tag)
}

func TestRPCErrorsAsError(t *testing.T) {
	errs := RPCErrors{
		{Type: ErrTypeApp, Tag: ErrInvalidValue, Severity: SevError, Message: ErrorMessage{Value: "nope"}},
		{Type: ErrTypeProtocol, Tag: ErrLockDenied, Severity: SevError, Message: ErrorMessage{Value: "held"}},
	}

	assert.Contains(t, errs.Error(), "multiple netconf errors")

	// errors.Is can find an individual RPCError inside the collection.
	assert.True(t, errors.Is(errs, errs[0]))
	assert.True(t, errors.Is(errs, errs[1]))
}
