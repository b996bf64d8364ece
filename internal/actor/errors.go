package actor

import "errors"

// Error taxonomy, spec.md §7: every handle_* failure maps to one of these.
// Payload violations ask for a clean session and discard the message;
// infrastructure errors crash the actor so the tracker requeues it.
var (
	ErrInvalidPath                     = errors.New("invalid_path")
	ErrMappingNotFound                 = errors.New("mapping_not_found")
	ErrGuessedEndpoints                = errors.New("guessed_endpoints")
	ErrCannotWriteOnServerOwnedIface   = errors.New("cannot_write_on_server_owned_interface")
	ErrInterfaceLoadingFailed          = errors.New("interface_loading_failed")
	ErrUndecodableBSONPayload          = errors.New("undecodable_bson_payload")
	ErrUnexpectedValueType             = errors.New("unexpected_value_type")
	ErrUnexpectedObjectKey              = errors.New("unexpected_object_key")
	ErrValueSizeExceeded                = errors.New("value_size_exceeded")
	ErrInvalidIntrospection            = errors.New("invalid_introspection")
	ErrInvalidProperties               = errors.New("invalid_properties")
	ErrDatabase                        = errors.New("database_error")
)

// payloadViolation reports whether err represents a payload/policy violation
// (discard + ask clean session) as opposed to an infrastructure error (crash
// + requeue).
func payloadViolation(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidPath),
		errors.Is(err, ErrMappingNotFound),
		errors.Is(err, ErrGuessedEndpoints),
		errors.Is(err, ErrCannotWriteOnServerOwnedIface),
		errors.Is(err, ErrUndecodableBSONPayload),
		errors.Is(err, ErrUnexpectedValueType),
		errors.Is(err, ErrUnexpectedObjectKey),
		errors.Is(err, ErrValueSizeExceeded),
		errors.Is(err, ErrInvalidIntrospection),
		errors.Is(err, ErrInvalidProperties):
		return true
	default:
		return false
	}
}
