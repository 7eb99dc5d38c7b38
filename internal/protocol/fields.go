package protocol

import "google.golang.org/protobuf/encoding/protowire"

// Field numbers shared across R|Protocol messages.
const (
	fieldTemplateID      protowire.Number = 154467
	fieldTemplateVersion protowire.Number = 153634
	fieldUserMsg         protowire.Number = 132760
	fieldRPCode          protowire.Number = 132766

	// Login
	fieldUser              protowire.Number = 131003
	fieldPassword          protowire.Number = 130004
	fieldAppName           protowire.Number = 130002
	fieldAppVersion        protowire.Number = 131803
	fieldSystemName        protowire.Number = 153628
	fieldInfraType         protowire.Number = 153621
	fieldFCMID             protowire.Number = 154013
	fieldIBID              protowire.Number = 154014
	fieldCountryCode       protowire.Number = 154712
	fieldUniqueUserID      protowire.Number = 153428
	fieldHeartbeatInterval protowire.Number = 153633

	// Market data
	fieldSymbol       protowire.Number = 110100
	fieldExchange     protowire.Number = 110101
	fieldRequest      protowire.Number = 100000
	fieldUpdateBits   protowire.Number = 154211
	fieldPresenceBits protowire.Number = 149138
	fieldIsSnapshot   protowire.Number = 110121
	fieldTradePrice   protowire.Number = 100006
	fieldTradeSize    protowire.Number = 100178
	fieldVolume       protowire.Number = 100032
	fieldBidPrice     protowire.Number = 100022
	fieldBidSize      protowire.Number = 100030
	fieldAskPrice     protowire.Number = 100025
	fieldAskSize      protowire.Number = 100031
	fieldSSBOE        protowire.Number = 150100
	fieldUSecs        protowire.Number = 150101
)
