package eth

// issuerABI is the interface of the VotingTokenIssuer contract. Older deployments revert
// with Error(string) instead of the custom errors listed here.
const issuerABI = `[
  {"type":"function","name":"issueToken","stateMutability":"nonpayable",
   "inputs":[{"name":"idHash","type":"bytes32"},{"name":"ttl","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"getToken","stateMutability":"view",
   "inputs":[{"name":"idHash","type":"bytes32"}],
   "outputs":[{"name":"token","type":"string"},{"name":"expiresAt","type":"uint256"},{"name":"used","type":"bool"}]},
  {"type":"function","name":"validateToken","stateMutability":"view",
   "inputs":[{"name":"idHash","type":"bytes32"},{"name":"token","type":"string"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"markUsed","stateMutability":"nonpayable",
   "inputs":[{"name":"idHash","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"voteWithToken","stateMutability":"nonpayable",
   "inputs":[{"name":"idHash","type":"bytes32"},{"name":"token","type":"string"},{"name":"candidateId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"addCandidate","stateMutability":"nonpayable",
   "inputs":[{"name":"nameEn","type":"string"},{"name":"nameKh","type":"string"},{"name":"party","type":"string"},{"name":"photoUrl","type":"string"}],"outputs":[]},
  {"type":"event","name":"TokenIssued","anonymous":false,
   "inputs":[{"name":"idHash","type":"bytes32","indexed":true},{"name":"token","type":"string","indexed":false},{"name":"expiresAt","type":"uint256","indexed":false}]},
  {"type":"event","name":"VoteCast","anonymous":false,
   "inputs":[{"name":"candidateId","type":"uint256","indexed":true}]},
  {"type":"event","name":"CandidateAdded","anonymous":false,
   "inputs":[{"name":"id","type":"uint256","indexed":true},{"name":"nameEn","type":"string","indexed":false},{"name":"nameKh","type":"string","indexed":false},{"name":"party","type":"string","indexed":false},{"name":"photoUrl","type":"string","indexed":false}]},
  {"type":"error","name":"ActiveTokenExists","inputs":[]},
  {"type":"error","name":"InvalidToken","inputs":[]},
  {"type":"error","name":"InvalidCandidate","inputs":[]},
  {"type":"error","name":"CandidateInactive","inputs":[]}
]`
