// Package protocol is the wire codec shared by the LAN and WAN transports:
// a single JSON tagged union, framed with a u32 big-endian length prefix.
package protocol

// Type discriminates the tagged union carried in every Envelope.
type Type string

const (
	TypePairingRequest       Type = "PairingRequest"
	TypePairingAccepted      Type = "PairingAccepted"
	TypeVerificationRequired Type = "VerificationRequired"
	TypeVerificationCode     Type = "VerificationCode"
	TypeVerificationSuccess  Type = "VerificationSuccess"
	TypeVerificationFailed   Type = "VerificationFailed"
	TypeFileMetadata         Type = "FileMetadata"
	TypeResumeInfo           Type = "ResumeInfo"
	TypeTransferComplete     Type = "TransferComplete"
	TypeError                Type = "Error"
)

// FileDescriptor is the on-the-wire description of a file about to be
// streamed. Hash is BLAKE3 of the full file contents, hex-encoded; it may
// be empty, though every sender in this implementation always sets it.
type FileDescriptor struct {
	Name string `json:"file_name"`
	Size uint64 `json:"file_size"`
	Hash string `json:"file_hash,omitempty"`
}

// Envelope is every control message this protocol exchanges, flattened
// into one struct keyed by Type. Only the fields relevant to Type are
// populated; this mirrors an internally-tagged union without requiring a
// discriminated sum type, which Go's json package cannot express directly.
type Envelope struct {
	Type Type `json:"type"`

	EndpointID  string          `json:"endpoint_id,omitempty"`
	DisplayName string          `json:"display_name,omitempty"`
	Code        string          `json:"code,omitempty"`
	Message     string          `json:"message,omitempty"`
	File        *FileDescriptor `json:"file,omitempty"`
	Offset      uint64          `json:"offset,omitempty"`
}

func PairingRequest(endpointID, displayName string) Envelope {
	return Envelope{Type: TypePairingRequest, EndpointID: endpointID, DisplayName: displayName}
}

func PairingAccepted() Envelope { return Envelope{Type: TypePairingAccepted} }

func VerificationRequired() Envelope { return Envelope{Type: TypeVerificationRequired} }

func VerificationCode(code string) Envelope {
	return Envelope{Type: TypeVerificationCode, Code: code}
}

func VerificationSuccess() Envelope { return Envelope{Type: TypeVerificationSuccess} }

func VerificationFailed(message string) Envelope {
	return Envelope{Type: TypeVerificationFailed, Message: message}
}

func FileMetadata(desc FileDescriptor) Envelope {
	return Envelope{Type: TypeFileMetadata, File: &desc}
}

func ResumeInfo(offset uint64) Envelope {
	return Envelope{Type: TypeResumeInfo, Offset: offset}
}

func TransferComplete() Envelope { return Envelope{Type: TypeTransferComplete} }

func Error(message string) Envelope {
	return Envelope{Type: TypeError, Message: message}
}
