package nat

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
)

// STUN protocol constants as defined in RFC 5389
const (
	stunMagicCookie = 0x2112A442
	stunHeaderSize  = 20

	// STUN message types
	stunBindingRequest  = 0x0001
	stunBindingResponse = 0x0101

	// STUN attribute types
	stunAttrMappedAddress    = 0x0001
	stunAttrXorMappedAddress = 0x0020

	stunFamilyIPv4        = 0x01
	stunTransactionIDSize = 12
)

// NewBindingRequest builds a Binding Request with a random transaction ID.
func NewBindingRequest() (request, transactionID []byte, err error) {
	transactionID = make([]byte, stunTransactionIDSize)
	if _, err := rand.Read(transactionID); err != nil {
		return nil, nil, fmt.Errorf("failed to generate transaction ID: %w", err)
	}
	return BuildBindingRequest(transactionID), transactionID, nil
}

// BuildBindingRequest constructs a 20-byte STUN Binding Request carrying no
// attributes. Only the first 12 bytes of transactionID are used.
func BuildBindingRequest(transactionID []byte) []byte {
	packet := make([]byte, stunHeaderSize)

	binary.BigEndian.PutUint16(packet[0:2], stunBindingRequest)
	binary.BigEndian.PutUint16(packet[2:4], 0)
	binary.BigEndian.PutUint32(packet[4:8], stunMagicCookie)
	copy(packet[8:20], transactionID)

	return packet
}

// ParseBindingResponse extracts the mapped address from a Binding Success
// Response. It returns nil when the buffer is shorter than a header, carries
// the wrong magic cookie or message type, or holds no IPv4 mapped address.
func ParseBindingResponse(response []byte) *MappedAddress {
	if len(response) < stunHeaderSize {
		return nil
	}
	if binary.BigEndian.Uint32(response[4:8]) != stunMagicCookie {
		return nil
	}
	if binary.BigEndian.Uint16(response[0:2]) != stunBindingResponse {
		return nil
	}

	end := stunHeaderSize + int(binary.BigEndian.Uint16(response[2:4]))
	if end > len(response) {
		end = len(response)
	}

	offset := stunHeaderSize
	for offset+4 <= end {
		attrType := binary.BigEndian.Uint16(response[offset : offset+2])
		attrLength := int(binary.BigEndian.Uint16(response[offset+2 : offset+4]))
		offset += 4

		if offset+attrLength > end {
			return nil
		}
		value := response[offset : offset+attrLength]

		switch attrType {
		case stunAttrXorMappedAddress:
			if addr := parseXorMappedAddress(value, response[:stunHeaderSize]); addr != nil {
				return addr
			}
		case stunAttrMappedAddress:
			if addr := parseMappedAddress(value); addr != nil {
				return addr
			}
		}

		offset += attrLength
		if pad := attrLength % 4; pad != 0 {
			offset += 4 - pad
		}
	}

	return nil
}

// parseXorMappedAddress decodes an IPv4 XOR-MAPPED-ADDRESS value. The port
// is masked with the top half of the magic cookie and each IP byte with the
// matching cookie byte in the header.
func parseXorMappedAddress(value, header []byte) *MappedAddress {
	if len(value) < 8 || value[1] != stunFamilyIPv4 {
		return nil
	}

	port := binary.BigEndian.Uint16(value[2:4]) ^ uint16(stunMagicCookie>>16)
	ip := make(net.IP, net.IPv4len)
	for i := 0; i < net.IPv4len; i++ {
		ip[i] = value[4+i] ^ header[4+i]
	}

	return &MappedAddress{IP: ip, Port: int(port)}
}

// parseMappedAddress decodes an IPv4 MAPPED-ADDRESS value (no masking).
func parseMappedAddress(value []byte) *MappedAddress {
	if len(value) < 8 || value[1] != stunFamilyIPv4 {
		return nil
	}

	ip := make(net.IP, net.IPv4len)
	copy(ip, value[4:8])

	return &MappedAddress{IP: ip, Port: int(binary.BigEndian.Uint16(value[2:4]))}
}

// transactionIDMatches reports whether response carries the given transaction ID.
func transactionIDMatches(response, transactionID []byte) bool {
	if len(response) < stunHeaderSize || len(transactionID) != stunTransactionIDSize {
		return false
	}
	for i := 0; i < stunTransactionIDSize; i++ {
		if response[8+i] != transactionID[i] {
			return false
		}
	}
	return true
}
