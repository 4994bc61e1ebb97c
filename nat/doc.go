// Package nat classifies the NAT behavior of the local endpoint.
//
// Detection uses a small subset of the STUN protocol (RFC 5389): a bare
// Binding Request is sent to one or two STUN servers and the mapped
// addresses they report are compared. This is a two-probe heuristic, not
// the full RFC 3489/5780 behavior discovery, so restricted and
// port-restricted NATs cannot be told apart and are both reported as
// restricted.
//
// Example usage:
//
//	detector := nat.NewDetector()
//	info := detector.Detect(ctx, []string{"stun.l.google.com:19302", "stun1.l.google.com:19302"})
//	fmt.Println(info.Type, info.PublicIP)
//
// Detect never returns an error. Any failure is reported as
// NATTypeUnknown with the Error field populated.
package nat
