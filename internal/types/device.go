package types

// DeviceProfileDefinition describes one controller family: how to reach it and
// which named registers it exposes.
type DeviceProfileDefinition struct {
	DeviceProfile DeviceProfileInfo    `json:"device_profile"`
	Connection    ConnectionConfig     `json:"connection"`
	Registers     []RegisterDefinition `json:"registers"`
	Families      []RegisterFamily     `json:"register_families,omitempty"`
}

type DeviceProfileInfo struct {
	ID          string `json:"id"`
	Vendor      string `json:"vendor"`
	Model       string `json:"model"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

type ConnectionConfig struct {
	Protocol  string `json:"protocol"`
	Port      int    `json:"port"`
	UnitID    int    `json:"unit_id"`
	TimeoutMs int    `json:"timeout_ms"`
}

type RegisterDefinition struct {
	Name        string     `json:"name"`
	Address     uint16     `json:"address"`
	DataType    DataType   `json:"data_type"`
	Access      AccessType `json:"access"`
	Unit        string     `json:"unit,omitempty"`
	Description string     `json:"description,omitempty"`
}

// RegisterFamily expands to numbered registers: Prefix + n + Suffix lives at
// BaseAddress + n*Stride for n in [0, Count).
type RegisterFamily struct {
	Prefix      string     `json:"prefix"`
	Suffix      string     `json:"suffix,omitempty"`
	BaseAddress uint16     `json:"base_address"`
	Stride      uint16     `json:"stride"`
	Count       int        `json:"count"`
	DataType    DataType   `json:"data_type"`
	Access      AccessType `json:"access"`
}

type DataType string

const (
	DataTypeUint16  DataType = "uint16"
	DataTypeUint32  DataType = "uint32"
	DataTypeInt32   DataType = "int32"
	DataTypeFloat32 DataType = "float32"
)

// Words returns the number of 16-bit Modbus registers the type occupies.
func (d DataType) Words() uint16 {
	switch d {
	case DataTypeUint32, DataTypeInt32, DataTypeFloat32:
		return 2
	default:
		return 1
	}
}

type AccessType string

const (
	AccessTypeReadOnly  AccessType = "read_only"
	AccessTypeWriteOnly AccessType = "write_only"
	AccessTypeReadWrite AccessType = "read_write"
)

func (a AccessType) Readable() bool {
	return a == AccessTypeReadOnly || a == AccessTypeReadWrite
}

func (a AccessType) Writable() bool {
	return a == AccessTypeWriteOnly || a == AccessTypeReadWrite
}
