package witmotion

// Role commands from the vendor's pairing procedure. Sending master then,
// after the settle interval, slave switches a paired device into continuous
// broadcast.
const (
	CommandRoleMaster = "AT+ROLE=M"
	CommandRoleSlave  = "AT+ROLE=S"
)

// BaudRate is the fixed serial speed of the wireless adapters.
const BaudRate = 115200
