// Package claims turns a verified Azure attestation payload into typed
// claims. Presence and JSON type are checked field by field; values are
// passed through without policy judgement.
package claims

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Claim names as they appear in the payload.
const (
	NameIssuer             = "iss"
	NameIssuedAt           = "iat"
	NameExpiresAt          = "exp"
	NameNotBefore          = "nbf"
	NameJTI                = "jti"
	NameSecureBoot         = "secureboot"
	NameAttestationType    = "x-ms-attestation-type"
	NameDebuggersDisabled  = "x-ms-azurevm-debuggersdisabled"
	NameBootDebugEnabled   = "x-ms-azurevm-bootdebug-enabled"
	NameKernelDebugEnabled = "x-ms-azurevm-kerneldebug-enabled"
	NameHypervisorDebug    = "x-ms-azurevm-hypervisordebug-enabled"
	NameVMID               = "x-ms-azurevm-vmid"
	NameVersion            = "x-ms-ver"
	NamePolicyHash         = "x-ms-policy-hash"
	NameIsolation          = "x-ms-isolation-tee"
	NameRuntime            = "x-ms-runtime"
	NameClientPayload      = "client-payload"

	NameComplianceStatus = "x-ms-compliance-status"
	NameDebuggable       = "x-ms-sevsnpvm-is-debuggable"
	NameVMPL             = "x-ms-sevsnpvm-vmpl"

	NamePrice     = "price"
	NameTimestamp = "timestamp"
	NameNonce     = "nonce"
)

// ClientPayloadPath is the dotted path of the client payload object.
const ClientPayloadPath = NameRuntime + "." + NameClientPayload

// Isolation holds the x-ms-isolation-tee object.
type Isolation struct {
	AttestationType  string `json:"attestation_type"`
	ComplianceStatus string `json:"compliance_status"`
	Debuggable       bool   `json:"debuggable"`
	VMPL             uint8  `json:"vmpl"`

	BootloaderSVN     *uint64 `json:"bootloader_svn,omitempty"`
	GuestSVN          *uint64 `json:"guest_svn,omitempty"`
	MicrocodeSVN      *uint64 `json:"microcode_svn,omitempty"`
	SNPFirmwareSVN    *uint64 `json:"snpfw_svn,omitempty"`
	TEESVN            *uint64 `json:"tee_svn,omitempty"`
	LaunchMeasurement *string `json:"launch_measurement,omitempty"`
	ReportData        *string `json:"report_data,omitempty"`
	HostData          *string `json:"host_data,omitempty"`
	IDKeyDigest       *string `json:"id_key_digest,omitempty"`
	FamilyID          *string `json:"family_id,omitempty"`
	ImageID           *string `json:"image_id,omitempty"`
	MigrationAllowed  *bool   `json:"migration_allowed,omitempty"`
	SMTAllowed        *bool   `json:"smt_allowed,omitempty"`
}

// Claims is the typed view of a payload.
type Claims struct {
	Issuer             string `json:"issuer"`
	IssuedAt           int64  `json:"issued_at"`
	ExpiresAt          int64  `json:"expires_at"`
	SecureBoot         bool   `json:"secure_boot"`
	AttestationType    string `json:"attestation_type"`
	DebuggersDisabled  bool   `json:"debuggers_disabled"`
	BootDebugEnabled   bool   `json:"boot_debug_enabled"`
	KernelDebugEnabled bool   `json:"kernel_debug_enabled"`

	NotBefore              *int64  `json:"not_before,omitempty"`
	JTI                    *string `json:"jti,omitempty"`
	Version                *string `json:"version,omitempty"`
	PolicyHash             *string `json:"policy_hash,omitempty"`
	VMID                   *string `json:"vm_id,omitempty"`
	HypervisorDebugEnabled *bool   `json:"hypervisor_debug_enabled,omitempty"`

	Isolation     Isolation      `json:"isolation"`
	ClientPayload *ClientPayload `json:"client_payload,omitempty"`

	// Raw is the payload exactly as extracted from, used as policy input.
	Raw json.RawMessage `json:"-"`
}

// Extract decodes payload and validates every declared claim. The first
// failure is returned as *Error.
func Extract(payload []byte) (*Claims, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if m == nil {
		return nil, errors.New("decode payload: not a JSON object")
	}
	root := object{m: m}
	c := &Claims{Raw: append(json.RawMessage(nil), payload...)}

	if err := c.extractTopLevel(root); err != nil {
		return nil, err
	}
	iso, err := root.object(NameIsolation, true)
	if err != nil {
		return nil, err
	}
	if err := c.Isolation.extract(*iso); err != nil {
		return nil, err
	}
	runtime, err := root.object(NameRuntime, false)
	if err != nil {
		return nil, err
	}
	if runtime != nil {
		cp, err := runtime.object(NameClientPayload, false)
		if err != nil {
			return nil, err
		}
		if cp != nil {
			if c.ClientPayload, err = extractClientPayload(*cp); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

func (c *Claims) extractTopLevel(o object) error {
	iss, err := o.str(NameIssuer, true)
	if err != nil {
		return err
	}
	c.Issuer = *iss

	iat, err := o.integer(NameIssuedAt, true)
	if err != nil {
		return err
	}
	c.IssuedAt = *iat

	exp, err := o.integer(NameExpiresAt, true)
	if err != nil {
		return err
	}
	c.ExpiresAt = *exp

	sb, err := o.boolean(NameSecureBoot, true)
	if err != nil {
		return err
	}
	c.SecureBoot = *sb

	at, err := o.str(NameAttestationType, true)
	if err != nil {
		return err
	}
	c.AttestationType = *at

	flags := []struct {
		name string
		dst  *bool
	}{
		{NameDebuggersDisabled, &c.DebuggersDisabled},
		{NameBootDebugEnabled, &c.BootDebugEnabled},
		{NameKernelDebugEnabled, &c.KernelDebugEnabled},
	}
	for _, f := range flags {
		v, err := o.boolean(f.name, true)
		if err != nil {
			return err
		}
		*f.dst = *v
	}

	if c.NotBefore, err = o.integer(NameNotBefore, false); err != nil {
		return err
	}
	if c.JTI, err = o.str(NameJTI, false); err != nil {
		return err
	}
	if c.Version, err = o.str(NameVersion, false); err != nil {
		return err
	}
	if c.PolicyHash, err = o.str(NamePolicyHash, false); err != nil {
		return err
	}
	if c.VMID, err = o.str(NameVMID, false); err != nil {
		return err
	}
	if c.HypervisorDebugEnabled, err = o.boolean(NameHypervisorDebug, false); err != nil {
		return err
	}
	return nil
}

func (iso *Isolation) extract(o object) error {
	at, err := o.str(NameAttestationType, true)
	if err != nil {
		return err
	}
	iso.AttestationType = *at

	cs, err := o.str(NameComplianceStatus, true)
	if err != nil {
		return err
	}
	iso.ComplianceStatus = *cs

	dbg, err := o.boolean(NameDebuggable, true)
	if err != nil {
		return err
	}
	iso.Debuggable = *dbg

	vmpl, err := o.unsigned(NameVMPL, true, 255)
	if err != nil {
		return err
	}
	iso.VMPL = uint8(*vmpl)

	svns := []struct {
		name string
		dst  **uint64
	}{
		{"x-ms-sevsnpvm-bootloader-svn", &iso.BootloaderSVN},
		{"x-ms-sevsnpvm-guestsvn", &iso.GuestSVN},
		{"x-ms-sevsnpvm-microcode-svn", &iso.MicrocodeSVN},
		{"x-ms-sevsnpvm-snpfw-svn", &iso.SNPFirmwareSVN},
		{"x-ms-sevsnpvm-tee-svn", &iso.TEESVN},
	}
	for _, f := range svns {
		if *f.dst, err = o.unsigned(f.name, false, anyUint); err != nil {
			return err
		}
	}

	strs := []struct {
		name string
		dst  **string
	}{
		{"x-ms-sevsnpvm-launchmeasurement", &iso.LaunchMeasurement},
		{"x-ms-sevsnpvm-reportdata", &iso.ReportData},
		{"x-ms-sevsnpvm-hostdata", &iso.HostData},
		{"x-ms-sevsnpvm-idkeydigest", &iso.IDKeyDigest},
		{"x-ms-sevsnpvm-familyId", &iso.FamilyID},
		{"x-ms-sevsnpvm-imageId", &iso.ImageID},
	}
	for _, f := range strs {
		if *f.dst, err = o.str(f.name, false); err != nil {
			return err
		}
	}

	if iso.MigrationAllowed, err = o.boolean("x-ms-sevsnpvm-migration-allowed", false); err != nil {
		return err
	}
	if iso.SMTAllowed, err = o.boolean("x-ms-sevsnpvm-smt-allowed", false); err != nil {
		return err
	}
	return nil
}
