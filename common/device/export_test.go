package device

// PhysicalDevice exposes physicalDevice to the external test package.
type PhysicalDevice = physicalDevice

func NewPhysicalDevice(index int, uuid string) PhysicalDevice {
	return physicalDevice{index: index, uuid: uuid}
}

func (d physicalDevice) Index() int {
	return d.index
}

var (
	ParseVisibleDevices   = parseVisibleDevices
	ResolveVisibleDevices = resolveVisibleDevices
)
