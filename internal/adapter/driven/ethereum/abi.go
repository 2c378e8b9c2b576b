package ethereum

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// degreeIssuanceABI is the interface of the DegreeIssuance contract.
const degreeIssuanceABI = `[
  {"type":"function","name":"issueDegree","stateMutability":"nonpayable",
   "inputs":[{"name":"recipient","type":"address"},{"name":"degreeName","type":"string"},{"name":"university","type":"string"}],
   "outputs":[{"name":"degreeId","type":"bytes32"}]},
  {"type":"function","name":"revokeDegree","stateMutability":"nonpayable",
   "inputs":[{"name":"degreeId","type":"bytes32"}],
   "outputs":[]},
  {"type":"function","name":"verifyDegree","stateMutability":"view",
   "inputs":[{"name":"degreeId","type":"bytes32"}],
   "outputs":[
     {"name":"degreeId","type":"bytes32"},
     {"name":"recipient","type":"address"},
     {"name":"degreeName","type":"string"},
     {"name":"university","type":"string"},
     {"name":"issueDate","type":"uint256"},
     {"name":"isValid","type":"bool"},
     {"name":"nonce","type":"uint256"}]},
  {"type":"function","name":"getDegreesByAddress","stateMutability":"view",
   "inputs":[{"name":"recipient","type":"address"}],
   "outputs":[{"name":"degreeIds","type":"bytes32[]"}]},
  {"type":"event","name":"DegreeIssued","anonymous":false,
   "inputs":[
     {"name":"degreeId","type":"bytes32","indexed":true},
     {"name":"recipient","type":"address","indexed":true},
     {"name":"degreeName","type":"string","indexed":false},
     {"name":"university","type":"string","indexed":false},
     {"name":"issueDate","type":"uint256","indexed":false}]},
  {"type":"event","name":"DegreeRevoked","anonymous":false,
   "inputs":[
     {"name":"degreeId","type":"bytes32","indexed":true},
     {"name":"revokedAt","type":"uint256","indexed":false}]}
]`

var contractABI = mustParseABI(degreeIssuanceABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("parse DegreeIssuance ABI: " + err.Error())
	}
	return parsed
}
